package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/papershelf/internal/types"
)

// Schema selects how captions are persisted.
type Schema string

const (
	// SchemaInlineCaption keeps captions at the end of each page's text file;
	// the reader recovers them by splitting the text again.
	SchemaInlineCaption Schema = "inline-caption"

	// SchemaSidecar writes caption-free text plus a "<page>-media.json"
	// sidecar listing each page's captions.
	SchemaSidecar Schema = "sidecar-metadata"
)

// ParseSchema accepts the schema names and the short aliases "a" and "b".
func ParseSchema(s string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(SchemaInlineCaption), "a", "inline":
		return SchemaInlineCaption, nil
	case string(SchemaSidecar), "b", "sidecar":
		return SchemaSidecar, nil
	default:
		return "", fmt.Errorf("unknown dataset schema %q (want %s or %s)", s, SchemaInlineCaption, SchemaSidecar)
	}
}

// Manifest records a completed document write.
type Manifest struct {
	Version   int       `json:"version"`
	Schema    Schema    `json:"schema"`
	Pages     int       `json:"pages"`
	Media     int       `json:"media"`
	WrittenAt time.Time `json:"written_at"`
}

const manifestVersion = 1

func writeManifest(dir string, schema Schema, pages, media int) error {
	data, err := json.MarshalIndent(Manifest{
		Version:   manifestVersion,
		Schema:    schema,
		Pages:     pages,
		Media:     media,
		WrittenAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ManifestName, err)
	}
	return nil
}

// ReadManifest loads dir's manifest. It returns os.ErrNotExist (wrapped) when
// the document was never completed.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest in %s: %w", filepath.Base(dir), err)
	}
	if _, err := ParseSchema(string(m.Schema)); err != nil {
		return nil, fmt.Errorf("invalid manifest in %s: %w", filepath.Base(dir), err)
	}
	return &m, nil
}

// sidecar is the "<page>-media.json" document. IDs are JSON numbers; decimal
// numbers ("1.2") keep their textual form through json.Number.
type sidecar struct {
	Figures []sidecarEntry `json:"figures"`
	Tables  []sidecarEntry `json:"tables"`
}

type sidecarEntry struct {
	ID      json.Number `json:"id"`
	Caption string      `json:"caption"`
}

const sidecarSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["figures", "tables"],
  "properties": {
    "figures": {"$ref": "#/definitions/entries"},
    "tables": {"$ref": "#/definitions/entries"}
  },
  "definitions": {
    "entries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "caption"],
        "properties": {
          "id": {"type": "number", "minimum": 0},
          "caption": {"type": "string"}
        }
      }
    }
  }
}`

var (
	sidecarSchemaOnce sync.Once
	sidecarSchema     *jsonschema.Schema
	sidecarSchemaErr  error
)

func compiledSidecarSchema() (*jsonschema.Schema, error) {
	sidecarSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("sidecar.json", strings.NewReader(sidecarSchemaJSON)); err != nil {
			sidecarSchemaErr = fmt.Errorf("failed to load sidecar schema: %w", err)
			return
		}
		sidecarSchema, sidecarSchemaErr = compiler.Compile("sidecar.json")
	})
	return sidecarSchema, sidecarSchemaErr
}

func encodeSidecar(caps []types.Caption) ([]byte, error) {
	sc := sidecar{Figures: []sidecarEntry{}, Tables: []sidecarEntry{}}
	for _, c := range caps {
		number := types.CanonicalNumber(c.Number)
		if !types.IsNumber(number) {
			return nil, fmt.Errorf("caption %q has no valid number", c.Raw)
		}
		entry := sidecarEntry{ID: json.Number(number), Caption: c.Raw}
		switch c.Kind {
		case types.KindFigure:
			sc.Figures = append(sc.Figures, entry)
		case types.KindTable:
			sc.Tables = append(sc.Tables, entry)
		}
	}
	return json.Marshal(sc)
}

// decodeSidecar validates and decodes a sidecar. Captions are returned
// figures first, then tables, each in file order.
func decodeSidecar(data []byte) ([]types.Caption, error) {
	schema, err := compiledSidecarSchema()
	if err != nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid sidecar JSON: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("sidecar does not match schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var sc sidecar
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("invalid sidecar: %w", err)
	}

	var caps []types.Caption
	add := func(kind types.MediaKind, entries []sidecarEntry) error {
		for _, e := range entries {
			number := e.ID.String()
			if !types.IsNumber(number) {
				return fmt.Errorf("sidecar %s id %q is not a figure number", kind, number)
			}
			caps = append(caps, types.Caption{Kind: kind, Number: number, Raw: e.Caption})
		}
		return nil
	}
	if err := add(types.KindFigure, sc.Figures); err != nil {
		return nil, err
	}
	if err := add(types.KindTable, sc.Tables); err != nil {
		return nil, err
	}
	return caps, nil
}
