// Package banner prints the one-time colored startup summary each geoproxy
// daemon shows an operator watching a terminal. Purely cosmetic — it never
// gates behavior.
package banner

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
)

const art = `
 ██████╗ ███████╗ ██████╗ ██████╗ ██████╗  ██████╗ ██╗  ██╗██╗   ██╗
██╔════╝ ██╔════╝██╔═══██╗██╔══██╗██╔══██╗██╔═══██╗╚██╗██╔╝╚██╗ ██╔╝
██║  ███╗█████╗  ██║   ██║██████╔╝██████╔╝██║   ██║ ╚███╔╝  ╚████╔╝
██║   ██║██╔══╝  ██║   ██║██╔═══╝ ██╔══██╗██║   ██║ ██╔██╗   ╚██╔╝
╚██████╔╝███████╗╚██████╔╝██║     ██║  ██║╚██████╔╝██╔╝ ██╗   ██║
 ╚═════╝ ╚══════╝ ╚═════╝ ╚═╝     ╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═╝   ╚═╝
`

// Print shows the ASCII banner and a role label at daemon startup.
func Print(role string) {
	c := color.New(color.FgCyan, color.Bold)
	c.Println(art)

	fmt.Printf("   %s :: three-tier SOCKS5 exit network\n", role)
	fmt.Printf("   Start Time: %s\n", time.Now().Format(time.RFC1123))
	fmt.Println(strings.Repeat("-", 60))
}

// PrintListening reports the configured addresses a daemon listens on (or,
// for the Producer, dials). It is called before the listeners are opened.
func PrintListening(role string, addrs ...string) {
	color.Green("✓ %s listening", role)
	for _, a := range addrs {
		fmt.Printf("   • %s\n", a)
	}
	fmt.Println(strings.Repeat("-", 60))
}
