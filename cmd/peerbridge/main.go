// Peerbridge — CLI entry point.
//
// Establishes a P2P virtual network link to a single peer over a raw UDP
// socket (hole-punched via STUN, rendezvoused via a WebSocket signaling
// server) and bridges it to a local TUN interface.
//
// Configuration comes from CLI flags and environment variables; when no
// username is given either way, it is asked for interactively. Once the
// session is running, an interactive REPL reads commands from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/peerbridge/peerbridge/internal/config"
	"github.com/peerbridge/peerbridge/internal/session"
	"github.com/peerbridge/peerbridge/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	username := flag.String("username", "", "name to register on the signaling server")
	signalingURL := flag.String("signaling-url", "", "ws(s)://... URL of the signaling server")
	stunServer := flag.String("stun-server", "", "STUN server host:port")
	iface := flag.String("iface", "", "TUN interface name")
	localPort := flag.Int("listen", 0, "local UDP port (0 = ephemeral)")
	debugMode := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}
	if err := util.InitFileLogging(time.Now().UTC().Format("20060102-150405")); err != nil {
		util.LogWarning("file logging disabled: %v", err)
	}

	pterm.Info.Println(fmt.Sprintf("Peerbridge — v%s", version))
	pterm.Println()

	cfg := config.LoadEnv(config.Defaults())
	if *username != "" {
		cfg.Username = *username
	}
	if *signalingURL != "" {
		cfg.SignalingURL = *signalingURL
	}
	if *stunServer != "" {
		cfg.STUNServer = *stunServer
	}
	if *iface != "" {
		cfg.IfaceName = *iface
	}
	cfg.LocalPort = *localPort
	cfg.Debug = *debugMode

	if cfg.Username == "" {
		cfg.Username = askUsername()
	}

	sess := session.New(cfg)
	if err := sess.Start(ctx); err != nil {
		util.LogError("failed to start session: %v", err)
		os.Exit(1)
	}

	util.StartStatsReporter(ctx)
	util.LogSuccess("ready as %q — type /help for commands", cfg.Username)

	go func() {
		<-ctx.Done()
		sess.RequestShutdown()
	}()

	runREPL(sess)
	sess.Wait()
	util.LogInfo("successfully closed session")
}

// runREPL drives the interactive command loop until /quit, /exit, or the
// session reaches SHUTTING_DOWN.
func runREPL(sess *session.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		switch cmd {
		case "/connect":
			if len(args) != 1 {
				util.LogWarning("usage: /connect <username>")
				continue
			}
			if err := sess.ConnectToPeer(args[0]); err != nil {
				util.LogWarning("connect failed: %v", err)
			}

		case "/disconnect":
			sess.StopConnection()

		case "/accept":
			if err := sess.AcceptIncomingRequest(); err != nil {
				util.LogWarning("accept failed: %v", err)
			}

		case "/reject":
			if err := sess.RejectIncomingRequest(); err != nil {
				util.LogWarning("reject failed: %v", err)
			}

		case "/status":
			printStatus(sess)

		case "/ip":
			if ip := sess.LocalVirtualIP(); ip != "" {
				util.LogInfo("local virtual IP: %s", ip)
			} else {
				util.LogInfo("no virtual IP assigned (not connected)")
			}

		case "/help":
			printHelp()

		case "/quit", "/exit":
			sess.RequestShutdown()
			return

		default:
			util.LogWarning("unknown command %q — type /help", cmd)
		}

		if sess.State().String() == "SHUTTING_DOWN" {
			return
		}
	}
}

func printStatus(sess *session.Session) {
	util.LogInfo("state=%s connected=%v pending=%q", sess.State(), sess.IsConnected(), sess.PendingRequestFrom())
}

func printHelp() {
	pterm.Println("Commands:")
	pterm.Println("  /connect <username>   request a connection to a peer")
	pterm.Println("  /accept               accept the pending incoming request")
	pterm.Println("  /reject               decline the pending incoming request")
	pterm.Println("  /disconnect           tear down the current peer link")
	pterm.Println("  /status               show the current session state")
	pterm.Println("  /ip                   show this endpoint's virtual IP")
	pterm.Println("  /quit, /exit          shut down and exit")
}

// askUsername prompts for a username when none was supplied via flag or env.
func askUsername() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Username to register on the signaling server").
			Show()

		name := strings.TrimSpace(raw)
		if name != "" {
			pterm.Println()
			return name
		}
		util.LogWarning("username cannot be empty")
	}
}
