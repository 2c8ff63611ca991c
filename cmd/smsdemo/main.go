// Command smsdemo walks through publishing, sanitizing and mining a record,
// or with -bench compares re-endorsement with sanitization.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/karasz/sms"
	"github.com/karasz/sms/audit"
	"github.com/karasz/sms/internal/bench"
	"github.com/karasz/sms/internal/config"
	"github.com/karasz/sms/ledger"
	"github.com/karasz/sms/server"
)

const (
	defaultPayload   = "Patient: Alice, ID: 110105199001011234, Condition: depression, Price: 100 Token"
	sanitizedPayload = "Patient: ***, ID: ******************, Condition: depression, Price: 100 Token"
	operatorID       = "Regulator_Admin_01"
)

type options struct {
	bench     bool
	rounds    int
	yes       bool
	serverURL string
}

func main() {
	var opts options
	flag.BoolVar(&opts.bench, "bench", false, "compare re-signing with sanitization and exit")
	flag.IntVar(&opts.rounds, "rounds", 5, "rounds per endorser count in -bench mode")
	flag.BoolVar(&opts.yes, "yes", false, "accept defaults without prompting")
	flag.StringVar(&opts.serverURL, "server", "", "submit to a running smsd at this URL instead of an in-process ledger")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		color.Red("config: %v", err)
		os.Exit(1)
	}
	scheme, err := cfg.Scheme()
	if err != nil {
		color.Red("scheme: %v", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if opts.bench {
		err = runBench(ctx, scheme, opts.rounds, os.Stdout)
	} else {
		err = walkthrough(ctx, scheme, cfg.Endorsers, opts, os.Stdin, os.Stdout)
	}
	if err != nil {
		color.Red("\n  ✗ %v", err)
		os.Exit(1)
	}
}

func runBench(ctx context.Context, s *sms.Scheme, rounds int, out io.Writer) error {
	color.New(color.FgCyan).Fprintf(out, "Updating an endorsed record: re-sign by all N vs one sanitization (%s, %s)\n\n",
		s.Params().Name(), s.Suite().Name())
	results, err := bench.Run(ctx, s, bench.DefaultSizes, rounds)
	if err != nil {
		return err
	}
	bench.Print(out, results)
	return nil
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
	yes bool
}

func (p *prompter) ask(question, def string) string {
	color.New(color.FgYellow).Fprint(p.out, question)
	if p.yes {
		fmt.Fprintln(p.out, def)
		return def
	}
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return def
	}
	if line = strings.TrimSpace(line); line == "" {
		return def
	}
	return line
}

func section(out io.Writer, title string) {
	color.New(color.FgCyan, color.Bold).Fprintf(out, "\n==================== %s ====================\n", title)
}

func walkthrough(ctx context.Context, s *sms.Scheme, n int, opts options, in io.Reader, out io.Writer) error {
	ok := color.New(color.FgGreen)
	p := &prompter{in: bufio.NewReader(in), out: out, yes: opts.yes}

	fmt.Fprintln(out, "Sanitizable multi-signature ledger walkthrough")
	st, err := s.Setup(n)
	if err != nil {
		return err
	}
	ok.Fprintf(out, "  ✓ %d endorsers and one sanitizer ready\n", n)

	gov := audit.NewGovernor()
	store := audit.NewMemoryStore()
	j, err := audit.New(store)
	if err != nil {
		return err
	}
	journalID := "demo-" + uuid.NewString()
	rj, err := server.OpenRemoteJournal(ctx, j, store, server.NewLocalTransport(nil, gov), journalID)
	if err != nil {
		return err
	}

	var tr server.Transport
	if opts.serverURL != "" {
		tr = server.NewHTTPTransport(opts.serverURL)
	} else {
		tr = server.NewLocalTransport(ledger.NewChain(s), gov)
	}

	section(out, "1. Publish and endorse")
	payload := p.ask("Payload to publish (enter for default): ", defaultPayload)
	rec, err := ledger.Publish(s, "TX_"+uuid.NewString(), []byte(payload), st.HashKey, st.Endorsers, ledger.WithJournal(rj))
	if err != nil {
		return err
	}
	ok.Fprintln(out, "  ✓ endorsed by every node")
	fmt.Fprintf(out, "  record:  %s\n  payload: %s\n  digest:  %s\n", rec.ID(), rec.Payload(), rec.Digest(s))

	section(out, "2. Sanitize")
	color.New(color.FgYellow).Fprintln(out, "  ⚠️  the payload carries personal data")
	if answer := p.ask("Authorize the sanitizer to redact it? (y/n): ", "y"); strings.EqualFold(answer, "y") {
		if err := rec.Sanitize(s, st.Sanitizer, []byte(sanitizedPayload), operatorID); err != nil {
			return err
		}
		ok.Fprintln(out, "  ✓ payload replaced, endorsements untouched")
		fmt.Fprintf(out, "  payload: %s\n  digest:  %s\n", rec.Payload(), rec.Digest(s))
		for _, e := range rec.SanitizationLog() {
			fmt.Fprintf(out, "  log: %s by %s at %s\n", e.Action, e.OperatorID, e.Timestamp.Format("15:04:05"))
		}
	} else {
		color.New(color.FgRed).Fprintln(out, "  ✗ sanitization declined")
	}

	section(out, "3. Submit and mine")
	if err := tr.SubmitRecord(ctx, rec); err != nil {
		return fmt.Errorf("record rejected: %w", err)
	}
	ok.Fprintln(out, "  ✓ endorsements verified against the current payload")
	b, err := tr.Mine(ctx)
	if err != nil {
		return err
	}
	ok.Fprintf(out, "  ✓ block %d mined\n", b.Index)
	fmt.Fprintf(out, "  hash:        %s\n  merkle root: %s\n", b.Hash, b.MerkleRoot)

	section(out, "4. Audit")
	if err := rj.Close(ctx); err != nil {
		return err
	}
	ok.Fprintf(out, "  ✓ journal %s sealed and verified (%d entries)\n", journalID, j.State().Index)
	return nil
}
