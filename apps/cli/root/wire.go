package root

import (
	"github.com/hsfleet/byov-enrollment/apps/cli/cmd/backup"
	"github.com/hsfleet/byov-enrollment/apps/cli/cmd/clear"
	"github.com/hsfleet/byov-enrollment/apps/cli/cmd/migrate"
)

func init() {
	Root().AddCommand(migrate.Command())
	Root().AddCommand(backup.Command())
	Root().AddCommand(clear.Command())
}
