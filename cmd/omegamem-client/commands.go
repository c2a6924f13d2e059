package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexlapax/omegamem/pkg/mem/consolidation"
	"github.com/lexlapax/omegamem/pkg/mem/record"
	"github.com/lexlapax/omegamem/pkg/mem/store"
	"github.com/lexlapax/omegamem/pkg/mem/tier"
	"github.com/lexlapax/omegamem/pkg/mmu"
	"github.com/lexlapax/omegamem/pkg/omegamem"
)

const (
	cmdHelp        = "!help"
	cmdQuit        = "!quit"
	cmdRemember    = "!remember"
	cmdFact        = "!fact"
	cmdRef         = "!ref"
	cmdRecall      = "!recall"
	cmdTier        = "!tier"
	cmdGet         = "!get"
	cmdConsolidate = "!consolidate"
	cmdCompact     = "!compact"
	cmdStats       = "!stats"
	cmdAuto        = "!auto"
	cmdConfig      = "!config"
)

var commandNames = []string{
	cmdHelp, cmdQuit, cmdRemember, cmdFact, cmdRef, cmdRecall, cmdTier, cmdGet,
	cmdConsolidate, cmdCompact, cmdStats, cmdAuto, cmdConfig,
}

const helpText = `
omegamem client - Command Reference:
-----------------------------------------
!help                          - Show this help message
!remember [importance] <text>  - Store text in tier 1 (importance defaults to 0.5)
!fact [importance] k=v ...     - Store structured key/value content
!ref [importance] <uri>        - Store a reference to an external resource
!recall <query>                - Retrieve the most similar memories from every tier
!tier <tier>[,<tier>] <query>  - Retrieve only from the listed tiers (name or 1-12)
!get <id>                      - Show one memory without counting an access
!consolidate                   - Run one consolidation pass now
!compact                       - Rebuild the vector index without tombstones
!stats                         - Show per-tier counts and index state
!auto on|off                   - Start or stop background consolidation
!config                        - Show the effective configuration
!quit                          - Exit the application

Notes:
- Plain text input is treated as !recall
- Tab completion is available for commands`

const defaultImportance = 0.5

// session carries the client and output of one CLI run.
type session struct {
	client *omegamem.Client
	out    io.Writer
	k      int
}

func newSession(client *omegamem.Client, out io.Writer) *session {
	return &session{client: client, out: out, k: 5}
}

func (s *session) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

// process handles one input line and returns false when the CLI should exit.
func (s *session) process(ctx context.Context, input string) bool {
	if !strings.HasPrefix(input, "!") {
		s.recall(ctx, nil, input)
		return true
	}

	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case cmdHelp:
		s.printf("%s\n", helpText)

	case cmdQuit:
		return false

	case cmdRemember:
		importance, text := splitImportance(arg)
		s.encode(ctx, record.Text(text), importance)

	case cmdFact:
		importance, rest := splitImportance(arg)
		fields, err := parseFields(rest)
		if err != nil {
			s.printf("Error: %v\n", err)
			return true
		}
		s.encode(ctx, record.Structured(fields), importance)

	case cmdRef:
		importance, uri := splitImportance(arg)
		s.encode(ctx, record.Reference(uri), importance)

	case cmdRecall:
		s.recall(ctx, nil, arg)

	case cmdTier:
		spec, query, _ := strings.Cut(arg, " ")
		tiers, err := parseTiers(spec)
		if err != nil {
			s.printf("Error: %v\n", err)
			return true
		}
		s.recall(ctx, tiers, strings.TrimSpace(query))

	case cmdGet:
		rec, err := s.client.Get(record.ID(arg))
		if err != nil {
			s.printf("Error: %v\n", err)
			return true
		}
		data, _ := json.MarshalIndent(struct {
			ID          record.ID `json:"id"`
			Tier        string    `json:"tier"`
			Kind        string    `json:"kind"`
			Summary     string    `json:"summary"`
			Importance  float64   `json:"importance"`
			AccessCount uint64    `json:"access_count"`
			CreatedAt   time.Time `json:"created_at"`
			LastAccess  time.Time `json:"last_access"`
		}{rec.ID, rec.Tier.String(), rec.Content.Kind.String(), rec.Content.Summary(120),
			rec.Importance, rec.AccessCount, rec.CreatedAt, rec.LastAccess}, "", "  ")
		s.printf("%s\n", data)

	case cmdConsolidate:
		rep, err := s.client.Consolidate(ctx, s.client.Store().Now())
		if err != nil {
			s.printf("Error consolidating: %v\n", err)
			return true
		}
		s.printf("%s\n", rep)

	case cmdCompact:
		if err := s.client.Compact(ctx); err != nil {
			s.printf("Error compacting: %v\n", err)
			return true
		}
		s.printf("Index compacted: %s\n", s.client.Stats())

	case cmdStats:
		s.stats()

	case cmdAuto:
		switch arg {
		case "on", "":
			s.startAuto(ctx)
		case "off":
			s.client.StopScheduler()
			s.printf("Background consolidation stopped\n")
		default:
			s.printf("Usage: !auto on|off\n")
		}

	case cmdConfig:
		data, err := yaml.Marshal(redacted(s.client))
		if err != nil {
			s.printf("Error: %v\n", err)
			return true
		}
		s.printf("%s", data)

	default:
		s.printf("Unknown command: %s\nType !help for available commands.\n", cmd)
	}
	return true
}

func (s *session) encode(ctx context.Context, content record.Content, importance float64) {
	id, err := s.client.Encode(ctx, content, importance)
	if err != nil {
		s.printf("Error storing memory: %v\n", err)
		return
	}
	s.printf("Stored %s in %s\n", id, tier.Instant)
}

func (s *session) recall(ctx context.Context, tiers []tier.Ordinal, query string) {
	if query == "" {
		s.printf("Query required\n")
		return
	}
	hits, err := s.client.Retrieve(ctx, mmu.Query{Text: query, Tiers: tiers, K: s.k})
	if err != nil {
		s.printf("Error retrieving memories: %v\n", err)
		return
	}
	if len(hits) == 0 {
		s.printf("No memories found\n")
		return
	}
	printHits(s.out, hits)
}

func (s *session) stats() {
	st := s.client.Stats()
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tNAME\tCOUNT\tCAPACITY")
	for _, ts := range st.Tiers {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", ts.Tier, ts.Name, ts.Count, ts.Capacity)
	}
	w.Flush()
	s.printf("%s; max level %d; persistence errors %d\n", st, st.IndexMaxLevel, s.client.PersistErrors())
}

func (s *session) startAuto(ctx context.Context) {
	started := s.client.StartScheduler(ctx, func(rep consolidation.Report, err error) {
		if err != nil {
			return
		}
		if rep.Promoted+rep.Evicted+rep.Displaced > 0 {
			s.printf("\n[auto] %s\n", rep)
		}
	})
	if started {
		s.printf("Background consolidation every %s\n", s.client.Config().Consolidation.Interval)
	} else {
		s.printf("Background consolidation not started (already running or interval is zero)\n")
	}
}

func printHits(out io.Writer, hits []store.Hit) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIM\tTIER\tIMPORTANCE\tID\tCONTENT")
	for _, h := range hits {
		fmt.Fprintf(w, "%.3f\t%s\t%.2f\t%s\t%s\n",
			h.Similarity, h.Record.Tier.Name(), h.Record.Importance, h.Record.ID, h.Record.Content.Summary(60))
	}
	w.Flush()
}

// splitImportance peels a leading number in [0,1] off arg.
func splitImportance(arg string) (float64, string) {
	first, rest, found := strings.Cut(arg, " ")
	if v, err := strconv.ParseFloat(first, 64); err == nil && v >= 0 && v <= 1 {
		if !found {
			return v, ""
		}
		return v, strings.TrimSpace(rest)
	}
	return defaultImportance, arg
}

// parseFields reads "k=v k2=v2". Values that parse as numbers or booleans
// are stored as such.
func parseFields(s string) (map[string]interface{}, error) {
	fields := make(map[string]interface{})
	for _, tok := range strings.Fields(s) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", tok)
		}
		switch {
		case v == "true" || v == "false":
			fields[k] = v == "true"
		default:
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				fields[k] = n
			} else {
				fields[k] = v
			}
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("at least one key=value is required")
	}
	return fields, nil
}

func parseTiers(spec string) ([]tier.Ordinal, error) {
	if spec == "" {
		return nil, fmt.Errorf("tier required")
	}
	var out []tier.Ordinal
	for _, part := range strings.Split(spec, ",") {
		o, err := tier.Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// redacted returns the client configuration with secrets masked.
func redacted(c *omegamem.Client) interface{} {
	cfg := *c.Config()
	if cfg.Embedding.OpenAI.APIKey != "" {
		cfg.Embedding.OpenAI.APIKey = "****"
	}
	if cfg.Persistence.DSN != "" {
		cfg.Persistence.DSN = "****"
	}
	return cfg
}
