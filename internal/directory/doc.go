// Package directory resolves a single Active Directory user by identifier.
//
// A lookup runs as one sequential pipeline: the Call is normalized, an
// EffectiveQuery is built, the Searcher runs it, the first entry is projected
// onto a User and, when asked for, the user's groups are attached. The
// outcome settles a Pending exactly once.
//
//	finder := directory.NewFinder(client, directory.StaticBase("DC=example,DC=com"),
//		directory.WithDefaultAttributes("sAMAccountName", "mail"))
//
//	user, err := finder.Find(ctx, directory.IDFlagHandler{ID: "jsmith", IncludeMembership: true})
package directory
