package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/onboarding-crm/pkg/api"
	"github.com/hazyhaar/onboarding-crm/pkg/crm"
	"github.com/hazyhaar/onboarding-crm/pkg/importer"
	"github.com/hazyhaar/onboarding-crm/pkg/kit"
)

var jsonFlag = &cli.BoolFlag{Name: "json", Aliases: []string{"j"}, Usage: "Output as JSON"}

var actorFlag = &cli.StringFlag{
	Name:    "actor",
	Usage:   "Name recorded in the client history",
	EnvVars: []string{"ONBOARD_ACTOR", "USER"},
}

func nextIDCommand() *cli.Command {
	return &cli.Command{
		Name:  "next-id",
		Usage: "Print the identifier the next created client would receive",
		Action: withEnv(envOptions{}, func(c *cli.Context, e *env) error {
			fmt.Fprintln(c.App.Writer, e.svc.NextID())
			return nil
		}),
	}
}

func repairIDsCommand() *cli.Command {
	return &cli.Command{
		Name:  "repair-ids",
		Usage: "Replace blank and duplicated client identifiers and save the table",
		Flags: []cli.Flag{jsonFlag, actorFlag},
		Action: withEnv(envOptions{}, func(c *cli.Context, e *env) error {
			ctx := kit.WithActor(kit.WithTransport(c.Context, "cli"), c.String("actor"))
			resp, err := e.endpoints("cli").RepairIDs(ctx, nil)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return writeJSON(c.App.Writer, resp)
			}
			r := resp.(api.RepairResponse)
			fmt.Fprintf(c.App.Writer, "repaired %d rows, next id %s\n", len(r.Repaired), r.NextID)
			return nil
		}),
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Aliases:   []string{"s"},
		Usage:     "Rank the options of a list against a query",
		ArgsUsage: "<list> [query...]",
		Flags: []cli.Flag{
			jsonFlag,
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum results, 0 for all", Value: 20},
		},
		Action: withEnv(envOptions{}, func(c *cli.Context, e *env) error {
			if c.NArg() < 1 {
				return cli.Exit("search: missing list (see 'onboard canonicalize --list')", 2)
			}
			req := &api.SearchRequest{
				List:  c.Args().First(),
				Query: strings.Join(c.Args().Tail(), " "),
				Limit: c.Int("limit"),
			}
			resp, err := e.endpoints("cli").Search(kit.WithTransport(c.Context, "cli"), req)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return writeJSON(c.App.Writer, resp)
			}
			for _, h := range resp.(api.SearchResponse).Results {
				fmt.Fprintf(c.App.Writer, "%6.3f  %s\n", h.Score, h.Option)
			}
			return nil
		}),
	}
}

func canonicalizeCommand() *cli.Command {
	return &cli.Command{
		Name:      "canonicalize",
		Usage:     "Map free text onto the canonical entry of a catalog",
		ArgsUsage: "<catalog> <value...>",
		Flags: []cli.Flag{
			jsonFlag,
			&cli.BoolFlag{Name: "list", Aliases: []string{"l"}, Usage: "List the catalogs and searchable lists"},
		},
		Action: withEnv(envOptions{}, func(c *cli.Context, e *env) error {
			ctx := kit.WithTransport(c.Context, "cli")
			ep := e.endpoints("cli")
			if c.Bool("list") {
				resp, err := ep.Catalogs(ctx, nil)
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return writeJSON(c.App.Writer, resp)
				}
				for _, snap := range resp.(api.CatalogsResponse).Catalogs {
					fmt.Fprintf(c.App.Writer, "%s (%d entries)\n", snap.ID, len(snap.Entries))
				}
				return nil
			}
			if c.NArg() < 2 {
				return cli.Exit("canonicalize: need <catalog> <value>", 2)
			}
			req := &api.CanonicalizeRequest{Catalog: c.Args().First(), Value: strings.Join(c.Args().Tail(), " ")}
			resp, err := ep.Canonicalize(ctx, req)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return writeJSON(c.App.Writer, resp)
			}
			r := resp.(api.CanonicalizeResponse)
			fmt.Fprintf(c.App.Writer, "%s\t%s\n", r.Value, r.Kind)
			return nil
		}),
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Merge a CSV, XLSX or JSON table into the client table",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			jsonFlag,
			actorFlag,
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "append, update_by_id or upsert_name_phone", Value: string(importer.ModeAppend)},
			&cli.StringFlag{Name: "format", Usage: "Force the format instead of using the file extension"},
			&cli.StringFlag{Name: "encoding", Usage: "CSV character encoding (WHATWG label)", Value: "utf-8"},
			&cli.StringFlag{Name: "delimiter", Usage: "CSV field delimiter", Value: ","},
			&cli.StringSliceFlag{Name: "map", Usage: "Column mapping as column=header, repeatable"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would change without saving"},
		},
		Action: withEnv(envOptions{}, runImport),
	}
}

func runImport(c *cli.Context, e *env) error {
	if c.NArg() != 1 {
		return cli.Exit("import: need exactly one <file>", 2)
	}
	path := c.Args().First()
	delim, err := parseDelimiter(c.String("delimiter"))
	if err != nil {
		return cli.Exit("import: "+err.Error(), 2)
	}
	mapping, err := parseMapping(c.StringSlice("map"))
	if err != nil {
		return cli.Exit("import: "+err.Error(), 2)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	req := &crm.ImportRequest{
		File:   filepath.Base(path),
		Format: c.String("format"),
		Data:   f,
		Read:   importer.ReadOptions{Encoding: c.String("encoding"), Delimiter: delim},
		Options: importer.Options{
			Mode:    importer.Mode(c.String("mode")),
			Mapping: mapping,
			DryRun:  c.Bool("dry-run"),
		},
	}
	ctx := kit.WithActor(kit.WithTransport(c.Context, "cli"), c.String("actor"))
	resp, err := e.endpoints("cli").Import(ctx, req)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return writeJSON(c.App.Writer, resp)
	}
	res := resp.(*importer.Result)
	prefix := ""
	if req.Options.DryRun {
		prefix = "(dry run) "
	}
	fmt.Fprintf(c.App.Writer, "%sadded %d, updated %d, skipped %d, repaired ids %d\n",
		prefix, res.Added, res.Updated, res.Skipped, len(res.Repaired))
	return nil
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case "", ",":
		return ',', nil
	case `\t`, "tab":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) || r == utf8.RuneError {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	return r, nil
}

func parseMapping(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		col, header, ok := strings.Cut(p, "=")
		col, header = strings.TrimSpace(col), strings.TrimSpace(header)
		if !ok || col == "" || header == "" {
			return nil, fmt.Errorf("mapping %q is not column=header", p)
		}
		m[col] = header
	}
	return m, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
