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

package metadata

import "fmt"

// Format identifies the family of a per-asset metadata document.
type Format string

const (
	FormatUnknown Format = ""
	FormatMacOS   Format = "macos"  // macOS photo library export (osxphotos-style JSON)
	FormatICloud  Format = "icloud" // cloud photo service export (CloudKit-style records)

	// These are not detected from documents; they label records
	// produced by other means.
	FormatSidecar Format = "sidecar"
	FormatEXIF    Format = "exif"
	FormatMP4     Format = "mp4"
)

// ParseFormat parses a format hint. The empty string and "auto" both
// mean "detect it".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "auto":
		return FormatUnknown, nil
	case string(FormatMacOS):
		return FormatMacOS, nil
	case string(FormatICloud):
		return FormatICloud, nil
	}
	return FormatUnknown, fmt.Errorf("unrecognized document format: %s", s)
}

// ParseResult is the outcome of parsing one document. Exactly one
// variant applies, given by Format. If Format is FormatUnknown, the
// document was not recognized; Record still carries the raw document
// and Reason explains why it was not recognized.
type ParseResult struct {
	Format Format `json:"format"`
	Record Record `json:"record"`
	Asset  Asset  `json:"asset"`
	Reason string `json:"reason,omitempty"`
}

// Known returns true if the document was recognized.
func (pr ParseResult) Known() bool { return pr.Format != FormatUnknown }

// Source returns the metadata source that facts from this result
// should be attributed to.
func (pr ParseResult) Source() Source {
	switch pr.Format {
	case FormatMacOS:
		return SourceMacOS
	case FormatICloud:
		return SourceICloud
	}
	return Source(pr.Format)
}

// Facts returns all the asset and canonical facts from the result.
func (pr ParseResult) Facts() []Fact {
	src := pr.Source()
	return append(pr.Asset.Facts(src), pr.Record.Facts(src)...)
}

// predicate reports whether a document has the structure of a format.
type predicate struct {
	format Format
	match  func(doc map[string]any) bool
}

// detectors are evaluated in this order, and all of them are evaluated,
// so that a document matching more than one is flagged instead of
// being misclassified.
var detectors = []predicate{
	{
		format: FormatMacOS,
		match: func(doc map[string]any) bool {
			_, ok := object(doc, "exif_info")
			return ok
		},
	},
	{
		format: FormatICloud,
		match: func(doc map[string]any) bool {
			_, rec := object(doc, "asset_record")
			_, flds := object(doc, "asset_fields")
			return rec || flds
		},
	},
}

// Detect inspects the top-level keys of doc and returns the format it
// has the shape of, or FormatUnknown along with a reason.
func Detect(doc map[string]any) (Format, string) {
	var matched []Format
	for _, d := range detectors {
		if d.match(doc) {
			matched = append(matched, d.format)
		}
	}
	switch len(matched) {
	case 0:
		return FormatUnknown, "no recognized structure"
	case 1:
		return matched[0], ""
	default:
		return FormatUnknown, fmt.Sprintf("ambiguous structure: matches %v", matched)
	}
}

// Parse parses doc into a canonical record. If hint is not
// FormatUnknown, detection is skipped and the hinted parser is used.
// Missing fields are never an error; only an unsupported hint is.
func Parse(doc map[string]any, hint Format) (ParseResult, error) {
	format, reason := hint, ""
	if format == FormatUnknown {
		format, reason = Detect(doc)
	}

	var result ParseResult
	switch format {
	case FormatMacOS:
		result = parseMacOS(doc)
	case FormatICloud:
		result = parseICloud(doc)
	case FormatUnknown:
		result = ParseResult{Reason: reason}
	default:
		return ParseResult{}, fmt.Errorf("no parser for format %q", format)
	}

	result.Format = format
	result.Record.Format = format
	result.Record.Raw = doc

	return result, nil
}
