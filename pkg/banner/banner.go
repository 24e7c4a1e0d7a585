// Package banner prints the startup summary operators read before the
// structured log stream begins.
package banner

import (
	"fmt"

	"teamwire/pkg/config"
)

const banner = `
████████╗███████╗ █████╗ ███╗   ███╗██╗    ██╗██╗██████╗ ███████╗
╚══██╔══╝██╔════╝██╔══██╗████╗ ████║██║    ██║██║██╔══██╗██╔════╝
   ██║   █████╗  ███████║██╔████╔██║██║ █╗ ██║██║██████╔╝█████╗
   ██║   ██╔══╝  ██╔══██║██║╚██╔╝██║██║███╗██║██║██╔══██╗██╔══╝
   ██║   ███████╗██║  ██║██║ ╚═╝ ██║╚███╔███╔╝██║██║  ██║███████╗
   ╚═╝   ╚══════╝╚═╝  ╚═╝╚═╝     ╚═╝ ╚══╝╚══╝ ╚═╝╚═╝  ╚═╝╚══════╝
`

// Print writes the banner and a readiness checklist for the effective
// configuration.
func Print(eff config.EffectiveConfigResult, version string) {
	cfg := eff.Config

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", eff.Addr)
	fmt.Printf("DB Path:  %s\n", eff.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}

	fmt.Println("\n== Checklist ==================================================")
	if n := len(cfg.Security.SigningKeys); n > 0 {
		fmt.Printf("- Signing keys: OK (%d)\n", n)
	} else {
		fmt.Println("- Signing keys: MISSING (identity verification will reject everything)")
	}
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured (put a terminating proxy in front)")
	}
	if len(cfg.Security.CORS.AllowedOrigins) > 0 {
		fmt.Printf("- CORS origins: %v\n", cfg.Security.CORS.AllowedOrigins)
	} else {
		fmt.Println("- CORS origins: none (browser clients will be refused)")
	}
	if cfg.Retention.Enabled {
		cron := cfg.Retention.Cron
		if cron == "" {
			cron = "0 2 * * *"
		}
		fmt.Printf("- Retention: enabled (cron=%s period=%s)\n", cron, cfg.Retention.Period.Duration())
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /ws?token=<user.org.role.sig>   duplex event connection")
	fmt.Println("GET  /v1/conversations               conversation list with unread counts")
	fmt.Println("GET  /v1/conversations/{id}/history  paginated history")
	fmt.Println("GET  /healthz                        liveness probe")
	fmt.Println("GET  /metrics                        prometheus metrics")

	fmt.Println("\n== Logs =======================================================")
}
