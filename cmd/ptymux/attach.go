package main

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/srg/ptymux/internal/eventpair"
	"github.com/srg/ptymux/internal/ptysrv"
	"github.com/srg/ptymux/internal/transport"
)

// attachCmd represents the attach command
var attachCmd = &cobra.Command{
	Use:   "attach <client-id>",
	Short: "Attach interactively to a PTY client",
	Long: `Connects to a running ptymux service and binds the given client:
bytes the server side writes appear on stdout, stdin is forwarded to
the server side. When attached as the control client (id 0), pending
events (interrupt, window-size, hangup) are drained automatically and
annotated on stderr.

Example:
  ptymux attach 0 --open
  ptymux attach 1 --url ws://build-host:7850`,
	Args: cobra.ExactArgs(1),
	RunE: runAttach,
}

var (
	attachURL  string
	attachOpen bool
)

func init() {
	attachCmd.Flags().StringVar(&attachURL, "url", "ws://127.0.0.1:7850", "Service websocket URL")
	attachCmd.Flags().BoolVar(&attachOpen, "open", false, "Open the client via a temporary server-side connection first")
}

var (
	eventColor  = color.New(color.FgYellow)
	hangupColor = color.New(color.FgRed)
)

func runAttach(cmd *cobra.Command, args []string) error {
	id64, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid client id %q: %w", args[0], err)
	}
	id := uint32(id64)

	cmd.SilenceUsage = true

	if attachOpen {
		if err := openClient(id); err != nil {
			return err
		}
	}

	ws, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s/client/%d", attachURL, id), nil)
	if err != nil {
		return fmt.Errorf("failed to attach client %d: %w", id, err)
	}
	defer ws.Close()

	// One writer at a time: the stdin pump and the signal-driven
	// reads below share the socket.
	var writeMu sync.Mutex
	send := func(req transport.Request) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.WriteJSON(req)
	}

	go func() {
		buf := make([]byte, 1024)
		for {
			n, rerr := os.Stdin.Read(buf)
			if n > 0 {
				send(transport.Request{Op: transport.OpWrite, Data: append([]byte(nil), buf[:n]...)})
			}
			if rerr != nil {
				return
			}
		}
	}()

	hangupSeen := false
	for {
		var resp transport.Response
		if err := ws.ReadJSON(&resp); err != nil {
			return nil // service went away; nothing more to report
		}

		switch resp.Op {
		case transport.OpSignal:
			bits := eventpair.Signals(resp.Signals)
			if bits&eventpair.Readable != 0 {
				send(transport.Request{Op: transport.OpRead})
			}
			if bits&eventpair.Event != 0 && id == 0 {
				send(transport.Request{Op: transport.OpReadEvents})
			}
			if bits&eventpair.Hangup != 0 && !hangupSeen {
				hangupSeen = true
				hangupColor.Fprintln(os.Stderr, "[hangup]")
			}

		case transport.OpRead:
			if len(resp.Data) > 0 {
				os.Stdout.Write(resp.Data)
				// Keep draining until the fifo runs dry.
				send(transport.Request{Op: transport.OpRead})
			} else if resp.Status == transport.StatusOK {
				return nil // EOF: the server has shut down
			}

		case transport.OpReadEvents:
			if resp.Status == transport.StatusOK && resp.Events != 0 {
				eventColor.Fprintf(os.Stderr, "[event] %s\n", ptysrv.Events(resp.Events))
			}
		}
	}
}

// openClient issues open_client over a short-lived server-side
// connection. An already-open id is fine.
func openClient(id uint32) error {
	ws, _, err := websocket.DefaultDialer.Dial(attachURL+"/server", nil)
	if err != nil {
		return fmt.Errorf("failed to reach service at %s: %w", attachURL, err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(transport.Request{Op: transport.OpOpenClient, ID: id}); err != nil {
		return err
	}
	for {
		var resp transport.Response
		if err := ws.ReadJSON(&resp); err != nil {
			return err
		}
		if resp.Op != transport.OpOpenClient {
			continue
		}
		switch resp.Status {
		case transport.StatusOK, transport.StatusInvalidArgs:
			return nil // invalid_args: the client already exists
		default:
			return fmt.Errorf("open_client %d failed: %s", id, resp.Status)
		}
	}
}
