package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"wa-console/adminsync"
	"wa-console/backend"
	"wa-console/export"
	"wa-console/types"
	"wa-console/utils"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func newAdminChatsCmd(a *app) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "chats <clientId>",
		Short: "Show the WhatsApp conversations of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				return a.report(a.followChats(cmd.Context(), args[0]))
			}
			fleet := a.fleet()
			defer fleet.Close()
			chats, err := fleet.Chats(cmd.Context(), args[0])
			if err != nil {
				return a.report(err)
			}
			if len(chats) == 0 {
				fmt.Fprintln(a.out, "No messages.")
			}
			for _, m := range chats {
				printMessage(a.out, m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling and print new messages")
	return cmd
}

func printMessage(out io.Writer, m types.ChatMessage) {
	from := m.PhoneNumber
	if m.IsFromAI {
		from = "assistant"
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format("2006-01-02 15:04"), from, m.Message)
}

func messageKey(m types.ChatMessage) string {
	if m.ID != "" {
		return m.ID
	}
	return fmt.Sprintf("%s|%s|%d", m.PhoneNumber, m.Message, m.Timestamp.UnixNano())
}

func (a *app) followChats(parent context.Context, clientID string) error {
	ctx, stop := signalContext(parent)
	defer stop()

	var (
		mutex   sync.Mutex
		seen    = make(map[string]bool)
		lastErr string
		panel   *adminsync.Panel[[]types.ChatMessage]
		ready   = make(chan struct{})
	)
	onChange := func() {
		<-ready
		mutex.Lock()
		defer mutex.Unlock()
		if msg := panel.Err(); msg != lastErr {
			if msg != "" {
				fmt.Fprintln(a.out, msg)
			}
			lastErr = msg
		}
		chats, ok := panel.Data()
		if !ok {
			return
		}
		for _, m := range chats {
			if key := messageKey(m); !seen[key] {
				seen[key] = true
				printMessage(a.out, m)
			}
		}
	}

	fleet := a.fleet(adminsync.WithPollInterval(0), adminsync.WithOnChange(onChange))
	defer fleet.Close()
	panel = fleet.OpenChats(clientID)
	close(ready)
	defer panel.Close()

	<-ctx.Done()
	return nil
}

func newAdminThreadsCmd(a *app) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "threads <clientId>",
		Short: "Show the assistant threads of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				return a.report(a.followThreads(cmd.Context(), args[0]))
			}
			fleet := a.fleet()
			defer fleet.Close()
			threads, err := fleet.Threads(cmd.Context(), args[0])
			if err != nil {
				return a.report(err)
			}
			printThreads(a.out, threads)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling and reprint the table when it changes")
	return cmd
}

func printThreads(out io.Writer, threads []types.Thread) {
	if len(threads) == 0 {
		fmt.Fprintln(out, "No threads.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHONE\tTHREAD\tCREATED")
	for _, t := range threads {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.PhoneNumber, t.ThreadID, t.CreatedAt.Local().Format(time.RFC3339))
	}
	w.Flush()
}

func (a *app) followThreads(parent context.Context, clientID string) error {
	ctx, stop := signalContext(parent)
	defer stop()

	var (
		mutex     sync.Mutex
		lastCount = -1
		panel     *adminsync.Panel[[]types.Thread]
		ready     = make(chan struct{})
	)
	onChange := func() {
		<-ready
		mutex.Lock()
		defer mutex.Unlock()
		threads, ok := panel.Data()
		if !ok || len(threads) == lastCount {
			return
		}
		lastCount = len(threads)
		printThreads(a.out, threads)
	}

	fleet := a.fleet(adminsync.WithPollInterval(0), adminsync.WithOnChange(onChange))
	defer fleet.Close()
	panel = fleet.OpenThreads(clientID)
	close(ready)
	defer panel.Close()

	<-ctx.Done()
	return nil
}

func newAdminQRCmd(a *app) *cobra.Command {
	var (
		outPath string
		follow  bool
	)
	cmd := &cobra.Command{
		Use:   "qr <clientId>",
		Short: "Fetch the pairing QR of a client",
		Long: `Fetch the pairing QR of a client, retrying while its WhatsApp instance is
still being provisioned. With --out the QR image is written to a file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				return a.report(a.followQR(cmd.Context(), args[0], outPath))
			}
			fleet := a.fleet()
			defer fleet.Close()
			qr, err := fleet.QR(cmd.Context(), args[0])
			if err != nil {
				return a.report(err)
			}
			a.printQR(args[0], qr, outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the QR image to this file")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling and print every new QR")
	return cmd
}

func describeQR(clientID string, qr types.QRResult) string {
	var b strings.Builder
	b.WriteString(clientID)
	b.WriteString(": ")
	switch {
	case qr.State != nil && qr.State.Normalize() == types.StatusOpen:
		b.WriteString("open")
		if phone := utils.NormalizePhonePtr(qr.ConnectedPhone); phone != nil {
			fmt.Fprintf(&b, " (+%s)", *phone)
		}
	case qr.QR != nil && *qr.QR != "":
		b.WriteString("waiting for QR scan")
		if qr.TimeoutMS > 0 {
			fmt.Fprintf(&b, ", valid for %s", (time.Duration(qr.TimeoutMS) * time.Millisecond).String())
		}
	default:
		b.WriteString("no QR available yet")
	}
	return b.String()
}

func (a *app) printQR(clientID string, qr types.QRResult, outPath string) {
	fmt.Fprintln(a.out, describeQR(clientID, qr))
	if outPath == "" || qr.QR == nil || *qr.QR == "" {
		return
	}
	if qr.State != nil && qr.State.Normalize() == types.StatusOpen {
		return
	}
	if err := writeQR(outPath, *qr.QR); err != nil {
		fmt.Fprintf(a.out, "could not write QR: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "QR written to %s\n", outPath)
}

func (a *app) followQR(parent context.Context, clientID, outPath string) error {
	ctx, stop := signalContext(parent)
	defer stop()

	var (
		mutex sync.Mutex
		last  string
		panel *adminsync.Panel[types.QRResult]
		ready = make(chan struct{})
	)
	onChange := func() {
		<-ready
		mutex.Lock()
		defer mutex.Unlock()
		qr, ok := panel.Data()
		if !ok {
			return
		}
		key := describeQR(clientID, qr)
		if qr.QR != nil {
			key += *qr.QR
		}
		if key == last {
			return
		}
		last = key
		a.printQR(clientID, qr, outPath)
	}

	fleet := a.fleet(adminsync.WithPollInterval(0), adminsync.WithOnChange(onChange))
	defer fleet.Close()
	panel = fleet.OpenQR(clientID)
	close(ready)
	defer panel.Close()

	<-ctx.Done()
	return nil
}

func newAdminShareCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "share <slug>",
		Short: "Print the landing link of a client with a scannable QR",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			link := backend.LandingURL(a.cfg.Backend.PublicBase(), args[0])
			qr, err := qrcode.New(link, qrcode.Medium)
			if err != nil {
				return fmt.Errorf("encode link: %w", err)
			}
			fmt.Fprintf(a.out, "%s\n%s\n", qr.ToSmallString(false), link)
			return nil
		},
	}
}

func newAdminExportCmd(a *app) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "export <clientId>",
		Short: "Save a client's chats and threads into a sqlite file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			clientID := args[0]

			fleet := a.fleet()
			defer fleet.Close()
			chats, err := fleet.Chats(ctx, clientID)
			if err != nil {
				return a.report(err)
			}
			threads, err := fleet.Threads(ctx, clientID)
			if err != nil {
				return a.report(err)
			}

			store, err := export.Open(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			res, err := store.Write(ctx, clientID, chats, threads)
			if err != nil {
				return err
			}
			a.logger.Info().Str("client_id", clientID).Str("db", dbPath).Int("chats", res.Chats).Int("threads", res.Threads).Msg("export written")

			// report what the file holds, not what was sent to it
			stored, err := store.Chats(ctx, clientID)
			if err != nil {
				return fmt.Errorf("read back chats: %w", err)
			}
			threadCount, err := store.ThreadCount(ctx, clientID)
			if err != nil {
				return fmt.Errorf("read back threads: %w", err)
			}
			contacts := make(map[string]struct{})
			for _, m := range stored {
				contacts[m.PhoneNumber] = struct{}{}
			}
			fmt.Fprintf(a.out, "Exported %d messages from %d contacts and %d threads to %s\n", len(stored), len(contacts), threadCount, dbPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "wa-console-export.db", "sqlite file to write")
	return cmd
}
