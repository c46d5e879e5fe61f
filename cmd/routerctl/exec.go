package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"RouterGate/pkg/routeros"

	"github.com/spf13/cobra"
)

type execOptions struct {
	id      routeros.Identity
	timeout time.Duration
	repeat  int
	asJSON  bool
}

func newExecCmd() *cobra.Command {
	var o execOptions
	cmd := &cobra.Command{
		Use:   "exec [flags] -- <command>",
		Short: "Run one RouterOS API command",
		Long: `Run one RouterOS API command and print the reply rows.
Example:
  routerctl exec --host 10.0.0.1 --user admin -- /interface/print
  routerctl exec --host 10.0.0.1 --user admin -- /ip address print ?interface=ether1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.id.Host == "" {
				return fmt.Errorf("--host is required")
			}
			if o.id.Password == "" {
				o.id.Password = os.Getenv("ROUTEROS_PASSWORD")
			}
			return runExec(cmd.Context(), cmd.OutOrStdout(), o, strings.Join(args, " "))
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.id.Host, "host", "", "router address")
	f.IntVar(&o.id.Port, "port", 0, "API port (default 8728, 8729 with --tls)")
	f.StringVarP(&o.id.Username, "user", "u", "admin", "API user")
	f.StringVarP(&o.id.Password, "password", "p", "", "API password (default $ROUTEROS_PASSWORD)")
	f.BoolVar(&o.id.TLS, "tls", false, "use api-ssl")
	f.DurationVar(&o.timeout, "timeout", 10*time.Second, "per command timeout")
	f.IntVar(&o.repeat, "repeat", 1, "run the command this many times over one session")
	f.BoolVar(&o.asJSON, "json", false, "print rows as JSON")
	return cmd
}

func runExec(ctx context.Context, out io.Writer, o execOptions, line string) error {
	c, err := routeros.ParseCommand(line)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	o.id.RouterID = o.id.Host

	dialer := routeros.NewAPIDialer(routeros.APIDialerConfig{
		DialTimeout: o.timeout,
		TLSConfig:   &tls.Config{InsecureSkipVerify: true},
	})
	mgr := routeros.NewManager(dialer, routeros.Options{
		DialTimeout:    o.timeout,
		CommandTimeout: o.timeout,
	}, routeros.WithName("routerctl"))
	defer mgr.Close()

	if o.repeat < 1 {
		o.repeat = 1
	}
	for i := 0; i < o.repeat; i++ {
		start := time.Now()
		rows, err := mgr.Execute(ctx, o.id, c)
		if err != nil {
			return err
		}
		if o.asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(rows); err != nil {
				return err
			}
		} else if err := printTable(out, rows); err != nil {
			return err
		}
		if o.repeat > 1 {
			fmt.Fprintf(out, "# %d rows in %s\n", len(rows), time.Since(start).Round(time.Millisecond))
		}
	}
	return nil
}

// printTable prints rows with one column per attribute seen in any row.
func printTable(out io.Writer, rows []routeros.Row) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(out, "(no rows)")
		return err
	}
	seen := map[string]bool{}
	var cols []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Slice(cols, func(i, j int) bool {
		// .id first
		if (cols[i] == ".id") != (cols[j] == ".id") {
			return cols[i] == ".id"
		}
		return cols[i] < cols[j]
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(cols, "\t")))
	for _, r := range rows {
		vals := make([]string, len(cols))
		for i, c := range cols {
			vals[i] = r[c]
		}
		fmt.Fprintln(w, strings.Join(vals, "\t"))
	}
	return w.Flush()
}
