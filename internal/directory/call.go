package directory

// Handler receives the outcome of a lookup: (nil, user) on success, including
// the empty user when nothing matched, or (err, nil) on failure.
type Handler func(err error, user *User)

// Call is one of the supported ways to invoke FindUser.
type Call interface {
	isCall()
}

// OptionsIDFlagHandler is the fully spelled-out form.
type OptionsIDFlagHandler struct {
	Options           *QueryOptions
	ID                string
	IncludeMembership bool
	Handler           Handler
}

type IDFlagHandler struct {
	ID                string
	IncludeMembership bool
	Handler           Handler
}

type IDHandler struct {
	ID      string
	Handler Handler
}

type OptionsID struct {
	Options *QueryOptions
	ID      string
}

// ID looks up a user by identifier with no options.
type ID string

// Positional carries up to four loosely typed arguments, resolved by
// Normalize in this order:
//
//  1. a trailing Handler (or func(error, *User)) is taken as the handler
//  2. a now-trailing bool is taken as the membership flag
//  3. a leading string is the identifier and there are no options
//  4. otherwise the first argument is the options and the second the identifier
//
// Arguments of any other type are ignored rather than rejected.
type Positional struct {
	Args []any
}

func (OptionsIDFlagHandler) isCall() {}
func (IDFlagHandler) isCall()        {}
func (IDHandler) isCall()            {}
func (OptionsID) isCall()            {}
func (ID) isCall()                   {}
func (Positional) isCall()           {}

// CallTuple is the canonical form every Call reduces to.
type CallTuple struct {
	Options           *QueryOptions
	ID                string
	IncludeMembership bool
	Handler           Handler
}

// Normalize reduces a Call to its CallTuple. A nil Call yields the zero tuple.
func Normalize(call Call) CallTuple {
	switch c := call.(type) {
	case OptionsIDFlagHandler:
		return CallTuple{Options: c.Options, ID: c.ID, IncludeMembership: c.IncludeMembership, Handler: c.Handler}
	case IDFlagHandler:
		return CallTuple{ID: c.ID, IncludeMembership: c.IncludeMembership, Handler: c.Handler}
	case IDHandler:
		return CallTuple{ID: c.ID, Handler: c.Handler}
	case OptionsID:
		return CallTuple{Options: c.Options, ID: c.ID}
	case ID:
		return CallTuple{ID: string(c)}
	case Positional:
		return normalizePositional(c.Args)
	default:
		return CallTuple{}
	}
}

func normalizePositional(args []any) CallTuple {
	var tuple CallTuple

	if len(args) > 4 {
		args = args[:4]
	}

	if n := len(args); n > 0 {
		if h := asHandler(args[n-1]); h != nil {
			tuple.Handler = h
			args = args[:n-1]
		}
	}

	if n := len(args); n > 0 {
		if flag, ok := args[n-1].(bool); ok {
			tuple.IncludeMembership = flag
			args = args[:n-1]
		}
	}

	if len(args) > 0 {
		if id, ok := args[0].(string); ok {
			tuple.ID = id
			return tuple
		}
	}

	if len(args) > 1 {
		tuple.Options = asOptions(args[0])
		tuple.ID, _ = args[1].(string)
	}

	return tuple
}

func asHandler(v any) Handler {
	switch h := v.(type) {
	case Handler:
		return h
	case func(error, *User):
		return h
	default:
		return nil
	}
}

func asOptions(v any) *QueryOptions {
	switch o := v.(type) {
	case *QueryOptions:
		return o
	case QueryOptions:
		return &o
	default:
		return nil
	}
}
