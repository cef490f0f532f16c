/*
	Timelinize
	Copyright (c) 2013 Matthew Holt

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package photocmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/timelinize/photocatalog/catalog"
	"github.com/timelinize/photocatalog/geocode"
	"github.com/timelinize/photocatalog/metadata"
	"github.com/timelinize/photocatalog/objstore"
	"go.uber.org/zap"
)

func cmdImport(ctx context.Context, cfg *Config, args []string, out io.Writer) error {
	fset := newFlagSet("import")
	source := fset.String("source", "media", "Name of the data source")
	format := fset.String("format", "", "Metadata format of export documents: macos, icloud, or auto")
	library := fset.String("library", cfg.DefaultLibrary, "ID of the library to import into")
	owner := fset.String("owner", cfg.DefaultOwner, "ID of the owner of imported photos")
	fingerprints := fset.String("fingerprints", string(catalog.FingerprintKeep), "What to do with photos whose content is already in the catalog: keep, skip, or adopt")
	lists := fset.String("lists", string(catalog.ListsMerge), "How incoming tags and labels combine with stored ones: merge or replace")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		return fmt.Errorf("%w: import requires one path", errUsage)
	}

	hint, err := metadata.ParseFormat(*format)
	if err != nil {
		return err
	}
	policy, err := catalog.ParseFingerprintPolicy(*fingerprints)
	if err != nil {
		return err
	}
	listPolicy := catalog.ListPolicy(*lists)
	if listPolicy != catalog.ListsMerge && listPolicy != catalog.ListsReplace {
		return fmt.Errorf("unknown list policy: %s", *lists)
	}

	var store objstore.Store
	if cfg.storageConfigured() {
		store, err = objstore.New(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("opening object store: %w", err)
		}
	}

	c, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	task, err := c.RunTask(ctx, catalog.Import{
		DataSource:   *source,
		Path:         fset.Arg(0),
		Format:       hint,
		LibraryID:    *library,
		OwnerID:      *owner,
		Fingerprints: policy,
		Lists:        listPolicy,
		BatchSize:    cfg.ImportBatchSize,
		Store:        store,
	})
	return finishTask(out, task, err)
}

func cmdGeocode(ctx context.Context, cfg *Config, args []string, out io.Writer) error {
	fset := newFlagSet("geocode")
	library := fset.String("library", "", "Only look up photos in this library")
	limit := fset.Int("limit", 0, "Maximum number of photos to look up")
	dryRun := fset.Bool("dry-run", false, "Look up places without storing them")
	timezones := fset.Bool("timezones", true, "Fill in the time zone of each place")
	if err := fset.Parse(args); err != nil {
		return err
	}

	logger := catalog.Log.Named("geocode")
	nominatim := geocode.NewNominatim(cfg.Geocoder, logger)
	defer nominatim.Close()

	var geocoder geocode.Geocoder = nominatim
	if *timezones {
		finder, err := geocode.NewTimezoneFinder()
		if err != nil {
			logger.Warn("time zones will not be filled in", zap.Error(err))
		} else {
			geocoder = geocode.WithTimezones(nominatim, finder)
		}
	}

	c, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	task, err := c.RunTask(ctx, catalog.PlaceLookup{
		Geocoder:  geocoder,
		LibraryID: *library,
		Limit:     *limit,
		BatchSize: cfg.GeocodeBatchSize,
		DryRun:    *dryRun,
	})
	return finishTask(out, task, err)
}

func cmdSummaries(ctx context.Context, cfg *Config, args []string, out io.Writer) error {
	fset := newFlagSet("summaries")
	rebuild := fset.Bool("rebuild", false, "Recompute every summary instead of only changed places")
	if err := fset.Parse(args); err != nil {
		return err
	}

	c, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	task, err := c.RunTask(ctx, catalog.PlaceSummaryAggregation{
		Rebuild:   *rebuild,
		BatchSize: cfg.SummaryBatchSize,
	})
	return finishTask(out, task, err)
}

func cmdPlaces(ctx context.Context, cfg *Config, args []string, out io.Writer) error {
	fset := newFlagSet("places")
	country := fset.String("country", "", "Only places in this country (name or code)")
	state := fset.String("state", "", "Only places in this state")
	limit := fset.Int("limit", 100, "Maximum number of places")
	offset := fset.Int("offset", 0, "Number of places to skip")
	if err := fset.Parse(args); err != nil {
		return err
	}

	c, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	summaries, err := c.ListPlaceSummaries(ctx, catalog.PlaceSummaryFilter{
		Country: *country,
		State:   *state,
		Limit:   *limit,
		Offset:  *offset,
	})
	if err != nil {
		return err
	}
	return printJSON(out, summaries)
}

func cmdTasks(ctx context.Context, cfg *Config, args []string, out io.Writer) error {
	action := "list"
	if len(args) > 0 && (args[0] == "list" || args[0] == "show" || args[0] == "abandon") {
		action, args = args[0], args[1:]
	}

	c, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	switch action {
	case "show", "abandon":
		if len(args) != 1 {
			return fmt.Errorf("%w: tasks %s requires a task ID", errUsage, action)
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task ID %q: %w", args[0], err)
		}
		if action == "abandon" {
			if err := c.AbandonTask(ctx, id); err != nil {
				return err
			}
		}
		task, err := c.GetTask(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(out, task)
	}

	fset := newFlagSet("tasks list")
	status := fset.String("status", "", "Only tasks with this status")
	name := fset.String("name", "", "Only tasks with this name")
	limit := fset.Int("limit", 20, "Maximum number of tasks")
	if err := fset.Parse(args); err != nil {
		return err
	}
	tasks, err := c.ListTasks(ctx, catalog.TaskFilter{
		Status: catalog.TaskStatus(*status),
		Name:   catalog.TaskName(*name),
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	return printJSON(out, tasks)
}

// parsedRecord is the printed form of one parsed export record.
type parsedRecord struct {
	File   string           `json:"file"`
	Index  int              `json:"index"`
	Format metadata.Format  `json:"format"`
	Reason string           `json:"reason,omitempty"`
	Groups []metadata.Group `json:"groups,omitempty"`
}

func cmdParse(_ context.Context, _ *Config, args []string, out io.Writer) error {
	fset := newFlagSet("parse")
	format := fset.String("format", "", "Format of the documents: macos, icloud, or auto")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() == 0 {
		return fmt.Errorf("%w: parse requires at least one file", errUsage)
	}
	hint, err := metadata.ParseFormat(*format)
	if err != nil {
		return err
	}

	var results []parsedRecord
	for _, file := range fset.Args() {
		parsed, err := parseFile(file, hint)
		if err != nil {
			return err
		}
		for i, pr := range parsed {
			results = append(results, parsedRecord{
				File:   file,
				Index:  i,
				Format: pr.Format,
				Reason: pr.Reason,
				Groups: pr.Record.Group(),
			})
		}
	}
	return printJSON(out, results)
}

func cmdCompare(_ context.Context, _ *Config, args []string, out io.Writer) error {
	fset := newFlagSet("compare")
	format := fset.String("format", "", "Format of the documents: macos, icloud, or auto")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 2 {
		return fmt.Errorf("%w: compare requires two files", errUsage)
	}
	hint, err := metadata.ParseFormat(*format)
	if err != nil {
		return err
	}

	var records [2]metadata.Record
	for i, file := range fset.Args() {
		parsed, err := parseFile(file, hint)
		if err != nil {
			return err
		}
		if len(parsed) == 0 {
			return fmt.Errorf("%s: no records", file)
		}
		records[i] = parsed[0].Record
	}
	return printJSON(out, metadata.Compare(records[0], records[1]))
}

// parseFile parses every record in the document at file.
func parseFile(file string, hint metadata.Format) ([]metadata.ParseResult, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	docs, err := metadata.LoadDocuments(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	results := make([]metadata.ParseResult, 0, len(docs))
	for _, doc := range docs {
		pr, err := metadata.Parse(doc, hint)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		results = append(results, pr)
	}
	return results, nil
}
