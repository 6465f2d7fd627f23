package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"wa-console/backend"
	"wa-console/push"
	"wa-console/queue"
	"wa-console/statussync"
	"wa-console/utils"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newClientCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Pairing view of a single client",
	}
	cmd.AddCommand(newClientWatchCmd(a))
	cmd.AddCommand(newClientDisconnectCmd(a))
	return cmd
}

func newClientWatchCmd(a *app) *cobra.Command {
	var (
		qrOut  string
		noPush bool
	)
	cmd := &cobra.Command{
		Use:   "watch <slug>",
		Short: "Follow the WhatsApp connection state of a client",
		Long: `Load the client behind the landing slug, show its connection state and
follow it through periodic polling and the push channel until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(a.watchClient(cmd.Context(), args[0], qrOut, !noPush))
		},
	}
	cmd.Flags().StringVar(&qrOut, "qr-out", "", "Write the pairing QR image to this file whenever it changes")
	cmd.Flags().BoolVar(&noPush, "no-push", false, "Do not open the push channel, rely on polling only")
	return cmd
}

func (a *app) watchClient(parent context.Context, slug, qrOut string, usePush bool) error {
	ctx, stop := signalContext(parent)
	defer stop()

	printer := &statePrinter{out: a.out, qrOut: qrOut}
	opts := []statussync.ViewOption{
		statussync.WithPollInterval(a.cfg.Sync.PollInterval.Duration),
		statussync.WithViewLogger(a.logger),
		statussync.WithOnChange(printer.print),
	}

	g, gctx := errgroup.WithContext(ctx)
	if usePush {
		dispatcher := queue.NewDispatcher(64, a.registry)
		defer dispatcher.Stop()
		ch, err := push.Dial(ctx, a.client.BaseURL(),
			push.WithToken(a.cfg.Backend.Token),
			push.WithLogger(a.logger),
			push.WithDispatcher(dispatcher),
		)
		if err != nil {
			a.logger.Warn().Err(err).Msg("push channel unavailable, polling only")
		} else {
			defer ch.Close()
			opts = append(opts, statussync.WithPushSource(ch.Subscribe))
			g.Go(func() error {
				if err := ch.Run(gctx); err != nil {
					a.logger.Warn().Err(err).Msg("push channel dropped, polling continues")
				}
				return nil
			})
		}
	}

	view := statussync.NewView(a.syncer(), slug, opts...)
	if err := view.Start(ctx); err != nil {
		fmt.Fprintln(a.out, backend.UserMessage(err))
	}

	<-ctx.Done()
	view.Close()
	return g.Wait()
}

// statePrinter prints a line per visible transition
type statePrinter struct {
	mutex sync.Mutex
	out   io.Writer
	qrOut string
	last  string
	lastQ string
}

func (p *statePrinter) print(snap statussync.Snapshot) {
	if snap.Loading {
		return
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()

	line := describe(snap)
	if line != p.last {
		fmt.Fprintln(p.out, line)
		p.last = line
	}

	if p.qrOut == "" || !snap.State.HasQR() {
		return
	}
	qr := *snap.State.QRCode
	if qr == p.lastQ {
		return
	}
	if err := writeQR(p.qrOut, qr); err != nil {
		fmt.Fprintf(p.out, "could not write QR: %v\n", err)
		return
	}
	p.lastQ = qr
	fmt.Fprintf(p.out, "QR written to %s\n", p.qrOut)
}

func describe(snap statussync.Snapshot) string {
	var b strings.Builder
	if snap.Client != nil {
		fmt.Fprintf(&b, "%s: ", snap.Client.Name)
	}
	b.WriteString(string(snap.State.Status))
	if snap.State.Status == "" {
		b.WriteString("unknown")
	}
	if snap.State.ConnectedPhone != nil {
		fmt.Fprintf(&b, " (+%s)", *snap.State.ConnectedPhone)
	}
	if snap.State.HasQR() {
		b.WriteString(", waiting for QR scan")
	}
	if c := snap.Client; c != nil {
		fmt.Fprintf(&b, " | %d messages, %d paused", c.MessageCount, c.PausedCount)
		if c.GlobalPause {
			b.WriteString(", assistant paused")
		}
	}
	if snap.Error != "" {
		fmt.Fprintf(&b, " [%s]", snap.Error)
	}
	return b.String()
}

// writeQR stores the QR payload. Data URLs are decoded to the image bytes.
func writeQR(path, payload string) error {
	data := []byte(payload)
	if strings.HasPrefix(payload, "data:") {
		if i := strings.Index(payload, ";base64,"); i >= 0 {
			decoded, err := base64.StdEncoding.DecodeString(payload[i+len(";base64,"):])
			if err != nil {
				return fmt.Errorf("decode qr image: %w", err)
			}
			data = decoded
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func newClientDisconnectCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "disconnect <slug>",
		Short: "Log out the WhatsApp device paired with a client",
		Long: `Load the client behind the landing slug, log its paired device out after
confirmation and print the state reloaded from the backend.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(a.disconnectClient(cmd.Context(), args[0], a.confirmer(yes)))
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func (a *app) disconnectClient(ctx context.Context, slug string, confirm utils.Confirmer) error {
	view := statussync.NewView(a.syncer(), slug,
		statussync.WithPollInterval(0),
		statussync.WithViewLogger(a.logger),
	)
	defer view.Close()

	if err := view.Start(ctx); err != nil {
		return err
	}
	if err := view.Disconnect(ctx, confirm); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Disconnected.")
	fmt.Fprintln(a.out, describe(view.Snapshot()))
	return nil
}
