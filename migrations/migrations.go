// README: Embedded SQL schema, applied by infra.Migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
