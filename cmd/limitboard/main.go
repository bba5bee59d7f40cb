package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"limitboard/internal/config"
	"limitboard/internal/domain"
	"limitboard/internal/pipeline"
	"limitboard/internal/snapshot"
	"limitboard/internal/universe"
	"limitboard/internal/util"
)

const version = "0.1.0"

// app carries what every command needs after the Before hook runs.
type app struct {
	cfg *config.Config
	log *slog.Logger
}

func main() {
	a := &app{}
	cliApp := &cli.App{
		Name:    "limitboard",
		Usage:   "sync daily bars and build limit-up snapshots per market",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultPath,
				EnvVars: []string{"LIMITBOARD_CONFIG"},
				Usage:   "path to the YAML config",
			},
			&cli.StringFlag{Name: "log-level", Usage: "override logging.level"},
		},
		Before: a.load,
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "download the rolling window of bars",
				Flags:  []cli.Flag{marketFlag(), &cli.StringFlag{Name: "asof", Usage: "YYYY-MM-DD, default market-local today minus lag"}},
				Action: a.sync,
			},
			{
				Name:  "snapshot",
				Usage: "build, aggregate and publish snapshots",
				Flags: []cli.Flag{
					marketFlag(),
					&cli.StringFlag{Name: "ymd", Usage: "requested day, default market-local today"},
					&cli.StringFlag{Name: "slot", Value: snapshot.SlotClose, Usage: "midday or close"},
					&cli.BoolFlag{Name: "print", Usage: "print the payload stats as JSON"},
				},
				Action: a.snapshot,
			},
			{
				Name:   "run",
				Usage:  "sync then snapshot",
				Flags:  []cli.Flag{marketFlag(), &cli.StringFlag{Name: "slot", Value: snapshot.SlotClose}},
				Action: a.run,
			},
			{
				Name:  "universe",
				Usage: "manage instrument metadata",
				Subcommands: []*cli.Command{
					{
						Name:      "import",
						Usage:     "load a universe CSV (symbol,name,sector,market_detail)",
						ArgsUsage: "<file.csv>",
						Flags:     []cli.Flag{marketFlag(), &cli.BoolFlag{Name: "alpaca", Usage: "list US assets from Alpaca instead of a file"}},
						Action:    a.universeImport,
					},
				},
			},
			{
				Name:  "skiplist",
				Usage: "inspect or edit permanently skipped symbols",
				Subcommands: []*cli.Command{
					{Name: "list", Flags: []cli.Flag{marketFlag()}, Action: a.skipList},
					{Name: "add", ArgsUsage: "<symbol> [reason]", Flags: []cli.Flag{marketFlag()}, Action: a.skipAdd},
					{Name: "remove", ArgsUsage: "<symbol>", Flags: []cli.Flag{marketFlag()}, Action: a.skipRemove},
				},
			},
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(*cli.Context) error {
					fmt.Printf("limitboard %s\n", version)
					return nil
				},
			},
			{
				Name:   "errors",
				Usage:  "show recent download errors",
				Flags:  []cli.Flag{marketFlag(), &cli.IntFlag{Name: "limit", Value: 50}},
				Action: a.errors,
			},
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "limitboard: %v\n", err)
		os.Exit(1)
	}
}

func marketFlag() *cli.StringSliceFlag {
	return &cli.StringSliceFlag{Name: "market", Aliases: []string{"m"}, Usage: "market code; repeat or omit for all"}
}

func (a *app) load(c *cli.Context) error {
	if c.Args().First() == "version" {
		return nil
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	level := cfg.Logging.Level
	if l := c.String("log-level"); l != "" {
		level = l
	}
	a.cfg = cfg
	a.log = util.NewLogger(level, cfg.Logging.Format)
	util.SetDefault(a.log)
	return nil
}

func (a *app) pipeline(c *cli.Context) (*pipeline.Pipeline, error) {
	return pipeline.New(a.cfg, pipeline.Options{
		Markets:    c.StringSlice("market"),
		Registerer: prometheus.NewRegistry(),
	}, a.log)
}

func (a *app) sync(c *cli.Context) error {
	p, err := a.pipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MARKET\tWINDOW\tTOTAL\tOK\tFAILED\tSKIPPED\tMAX DATE\tELAPSED")
	var failed int
	for _, code := range p.Markets() {
		sum, err := p.Sync(c.Context, code, c.String("asof"))
		if err != nil {
			a.log.Error("sync failed", "market", code, "err", err)
			failed++
			continue
		}
		fmt.Fprintf(tw, "%s\t%s..%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			code, sum.Window.Start, sum.Window.End, sum.Total, sum.Success, sum.Failed,
			sum.SkippedPermanent, sum.MaxDate, sum.Elapsed.Round(time.Millisecond))
	}
	tw.Flush()
	if failed > 0 {
		return fmt.Errorf("%d market(s) failed", failed)
	}
	return nil
}

func (a *app) snapshot(c *cli.Context) error {
	p, err := a.pipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()

	payloads, err := p.SnapshotAll(c.Context, c.String("slot"), c.String("ymd"))
	for _, code := range p.Markets() {
		pl, ok := payloads[code]
		if !ok {
			continue
		}
		fmt.Printf("%s %s/%s: %d rows, %d on the limit list, %d watched\n",
			code, pl.YmdEffective, pl.Slot, len(pl.Snapshot), pl.Stats.LimitListCnt, pl.Stats.WatchCnt)
		if c.Bool("print") {
			out, _ := json.MarshalIndent(pl.Stats, "", "  ")
			fmt.Println(string(out))
		}
	}
	return err
}

func (a *app) run(c *cli.Context) error {
	p, err := a.pipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()

	var failed int
	for _, code := range p.Markets() {
		if err := p.Run(c.Context, code, c.String("slot")); err != nil {
			a.log.Error("run failed", "market", code, "err", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d market(s) failed", failed)
	}
	return nil
}

func (a *app) universeImport(c *cli.Context) error {
	p, err := a.pipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()
	if len(p.Markets()) != 1 {
		return fmt.Errorf("universe import needs exactly one --market")
	}
	m, err := p.Market(p.Markets()[0])
	if err != nil {
		return err
	}

	var insts []domain.Instrument
	switch {
	case c.Bool("alpaca"):
		if !a.cfg.Alpaca.Enabled() {
			return fmt.Errorf("alpaca credentials are not configured")
		}
		insts, err = universe.NewAlpacaAssets(a.cfg.Alpaca.APIKey, a.cfg.Alpaca.APISecret, a.cfg.Alpaca.BaseURL).Instruments(c.Context)
	case c.Args().Len() == 1:
		insts, err = universe.LoadCSV(c.Args().First(), domain.Market(m.Code), m.Config.TickerSuffix)
	default:
		return cli.ShowSubcommandHelp(c)
	}
	if err != nil {
		return err
	}
	n, err := universe.Import(c.Context, m.Store, insts)
	if err != nil {
		return err
	}
	fmt.Printf("%s: imported %s instruments into %s (%s)\n",
		m.Code, humanize.Comma(int64(n)), m.Store.Path(), humanize.Bytes(uint64(m.Store.Size())))
	return nil
}

func (a *app) skipList(c *cli.Context) error {
	p, err := a.pipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MARKET\tSYMBOL\tREASON")
	for _, code := range p.Markets() {
		m, _ := p.Market(code)
		entries, err := m.Skiplist.Entries()
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", code, e.Symbol, e.Reason)
		}
	}
	return tw.Flush()
}

func (a *app) skipAdd(c *cli.Context) error {
	return a.skipEdit(c, true)
}

func (a *app) skipRemove(c *cli.Context) error {
	return a.skipEdit(c, false)
}

func (a *app) skipEdit(c *cli.Context, add bool) error {
	if c.Args().Len() < 1 {
		return cli.ShowSubcommandHelp(c)
	}
	p, err := a.pipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()
	if len(p.Markets()) != 1 {
		return fmt.Errorf("skiplist edits need exactly one --market")
	}
	m, _ := p.Market(p.Markets()[0])
	sym := domain.NormalizeSymbol(c.Args().First())

	var changed bool
	if add {
		reason := c.Args().Get(1)
		if reason == "" {
			reason = "manual"
		}
		changed, err = m.Skiplist.Add(sym, reason)
	} else {
		changed, err = m.Skiplist.Remove(sym)
	}
	if err != nil {
		return err
	}
	if !changed {
		fmt.Printf("%s: %s unchanged\n", m.Code, sym)
		return nil
	}
	fmt.Printf("%s: %s updated in %s\n", m.Code, sym, m.Skiplist.Path())
	return nil
}

func (a *app) errors(c *cli.Context) error {
	p, err := a.pipeline(c)
	if err != nil {
		return err
	}
	defer p.Close()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MARKET\tWHEN\tSYMBOL\tRANGE\tERROR")
	for _, code := range p.Markets() {
		m, _ := p.Market(code)
		rows, err := m.Store.DownloadErrors(c.Context, c.Int("limit"))
		if err != nil {
			return err
		}
		for _, e := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s..%s\t%s\n",
				code, humanize.Time(e.CreatedAt), e.Symbol, e.StartDate, e.EndDate, e.Error)
		}
	}
	return tw.Flush()
}
