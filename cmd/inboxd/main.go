package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/wppinbox/internal/daemon"
	"github.com/matheus3301/wppinbox/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	gatewayFlag := flag.String("gateway", "", "gateway base URL (overrides gateway.base_url)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, GatewayURL: *gatewayFlag}),
	)

	app.Run()
}
