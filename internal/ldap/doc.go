/*
Package ldap is the directory transport used by the lookup core.

It owns everything that touches the wire:

  - server selection from configured URLs or DNS SRV records
  - a connection pool with health checks and periodic re-binding
  - simple, Kerberos (GSSAPI) and external (client certificate) binds
  - single-shot searches with exponential-backoff retry
  - error classification through LDAPError
  - helpers for DNs and for binary objectGUID / objectSid values

Callers depend on the Client interface; NewClient returns the pooled
implementation.

	client, err := ldap.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Search(ctx, &ldap.SearchRequest{
		BaseDN: "DC=example,DC=com",
		Scope:  ldap.ScopeWholeSubtree,
		Filter: "(sAMAccountName=jsmith)",
	})

All logging goes through the tflog "ldap" subsystem.
*/
package ldap
