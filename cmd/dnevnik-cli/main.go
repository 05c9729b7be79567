package main

import (
	"context"

	"dnevniksync/cmd/dnevnik-cli/commands"
	"dnevniksync/lib/telemetry"
)

func main() {
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
