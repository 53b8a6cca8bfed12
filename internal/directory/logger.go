package directory

import (
	"context"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Subsystem is the tflog subsystem the lookup core logs under.
const Subsystem = "directory"

// Logger is the structured logger used by Finder.
type Logger interface {
	Trace(ctx context.Context, msg string, fields map[string]any)
	Debug(ctx context.Context, msg string, fields map[string]any)
	Info(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, fields map[string]any)
}

// TFLogger writes to the tflog "directory" subsystem. The subsystem must have
// been registered on ctx with tflog.NewSubsystem, otherwise tflog drops the
// entries.
type TFLogger struct{}

func (TFLogger) Trace(ctx context.Context, msg string, fields map[string]any) {
	tflog.SubsystemTrace(ctx, Subsystem, msg, fields)
}

func (TFLogger) Debug(ctx context.Context, msg string, fields map[string]any) {
	tflog.SubsystemDebug(ctx, Subsystem, msg, fields)
}

func (TFLogger) Info(ctx context.Context, msg string, fields map[string]any) {
	tflog.SubsystemInfo(ctx, Subsystem, msg, fields)
}

func (TFLogger) Warn(ctx context.Context, msg string, fields map[string]any) {
	tflog.SubsystemWarn(ctx, Subsystem, msg, fields)
}

func (TFLogger) Error(ctx context.Context, msg string, fields map[string]any) {
	tflog.SubsystemError(ctx, Subsystem, msg, fields)
}
