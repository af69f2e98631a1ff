// perpctl drives the XAUT perpetual from the command line.
//
//	perpctl price
//	perpctl position [address]
//	perpctl quote -margin 1 -leverage 3
//	perpctl open -side long -margin 1 -leverage 3
//	perpctl close -percent 100
//
// Configuration comes from the same .env / environment as the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/uhyunpark/goldperp/params"
	"github.com/uhyunpark/goldperp/pkg/app"
	"github.com/uhyunpark/goldperp/pkg/perp"
	"github.com/uhyunpark/goldperp/pkg/util"
	"github.com/uhyunpark/goldperp/pkg/wallet"
)

const usage = `usage: perpctl [-env file] <command> [flags]

commands:
  price                      fetch the current XAUT price
  position [address]         read and decode a position (default: configured account)
  quote -margin M -leverage L
  open  -side long|short -margin M -leverage L
  close -percent P
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("perpctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	envFile := global.String("env", "", "path to .env file")
	logLevel := global.String("log-level", "warn", "log level for diagnostics on stderr")
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}
	cmd, rest := global.Arg(0), global.Args()[1:]

	logger, err := util.NewLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := params.LoadFromEnv(*envFile)
	a, err := app.Build(ctx, cfg, app.Options{}, logger.Sugar())
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer a.Close()
	go a.Session.Run(ctx)

	c := &cli{app: a, out: stdout}
	switch cmd {
	case "price":
		err = c.price(ctx)
	case "position":
		err = c.position(ctx, rest)
	case "quote":
		err = c.quote(ctx, rest, stderr)
	case "open":
		err = c.open(ctx, rest, stderr)
	case "close":
		err = c.close(ctx, rest, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	if err != nil {
		var txErr *perp.TxError
		if errors.As(err, &txErr) {
			fmt.Fprintf(stderr, "transaction failed (%s): %s\n", txErr.Kind, txErr.Reason)
			if txErr.TxHash.Big().Sign() != 0 {
				fmt.Fprintf(stderr, "tx: %s\n", txErr.TxHash.Hex())
			}
			return 1
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

type cli struct {
	app *app.App
	out io.Writer
}

func (c *cli) print(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) price(ctx context.Context) error {
	snap, err := c.app.Session.RefreshPrice(ctx)
	if err != nil {
		return err
	}
	return c.print(map[string]interface{}{"price": snap.Price.Decimal, "updatedAt": snap.PriceUpdatedAt})
}

func (c *cli) position(ctx context.Context, args []string) error {
	// price is optional for decoding; a failure only zeroes pnl and lev
	_, _ = c.app.Session.RefreshPrice(ctx)

	account := c.app.Session.Snapshot().Account
	if len(args) > 0 {
		addr, err := wallet.ParseAddress(args[0])
		if err != nil {
			return err
		}
		account = addr
	}
	if account.Big().Sign() == 0 {
		return errors.New("no account: pass an address or set WATCH_ADDRESS / a wallet")
	}

	pos, decoded, err := c.app.Session.Lookup(ctx, account)
	if err != nil {
		return err
	}
	if decoded == nil {
		fmt.Fprintf(c.out, "%s: no open position\n", account.Hex())
		return nil
	}
	return c.print(map[string]interface{}{
		"account":    account.Hex(),
		"size":       pos.Size.String(),
		"entryPrice": pos.EntryPrice.String(),
		"margin":     pos.Margin.String(),
		"decoded":    decoded,
	})
}

func intentFlags(name string, stderr io.Writer) (*flag.FlagSet, *string, *int) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	def := perp.DefaultIntent()
	margin := fs.String("margin", def.Margin, "margin in MNT")
	leverage := fs.Int("leverage", def.Leverage, fmt.Sprintf("leverage %d..%d", perp.MinLeverage, perp.MaxLeverage))
	return fs, margin, leverage
}

func (c *cli) quote(ctx context.Context, args []string, stderr io.Writer) error {
	fs, margin, leverage := intentFlags("quote", stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := c.app.Session.RefreshPrice(ctx); err != nil {
		return err
	}
	q, err := c.app.Session.Quote(perp.TradeIntent{Margin: *margin, Leverage: *leverage})
	if err != nil {
		return err
	}
	return c.print(q)
}

func (c *cli) open(ctx context.Context, args []string, stderr io.Writer) error {
	fs, margin, leverage := intentFlags("open", stderr)
	sideFlag := fs.String("side", "", "long or short")
	if err := fs.Parse(args); err != nil {
		return err
	}
	side, err := perp.ParseSide(*sideFlag)
	if err != nil {
		return err
	}
	if _, err := c.app.Session.RefreshPrice(ctx); err != nil {
		return err
	}
	outcome, err := c.app.Session.OpenPosition(ctx, side, perp.TradeIntent{Margin: *margin, Leverage: *leverage})
	if err != nil {
		return err
	}
	return c.print(outcome)
}

func (c *cli) close(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("close", flag.ContinueOnError)
	fs.SetOutput(stderr)
	percent := fs.Int("percent", perp.DefaultClosePercent, "percentage of the position to close (1..100)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := c.app.Session.RefreshPosition(ctx); err != nil {
		return err
	}
	outcome, err := c.app.Session.ClosePosition(ctx, *percent)
	if err != nil {
		return err
	}
	return c.print(outcome)
}
