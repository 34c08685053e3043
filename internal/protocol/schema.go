package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Schemas validates inbound client messages against the embedded JSON
// schemas before any engine code sees them. Compilation happens once at
// startup; a broken schema is a programming error and panics there.
type Schemas struct {
	hello *jsonschema.Schema
	act   *jsonschema.Schema
}

func MustLoadSchemas() *Schemas {
	s, err := LoadSchemas()
	if err != nil {
		panic(err)
	}
	return s
}

func LoadSchemas() (*Schemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, name := range []string{"hello", "act"} {
		path := fmt.Sprintf("schemas/%s.schema.json", name)
		b, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(path, bytes.NewReader(b)); err != nil {
			return nil, err
		}
	}
	hello, err := c.Compile("schemas/hello.schema.json")
	if err != nil {
		return nil, err
	}
	act, err := c.Compile("schemas/act.schema.json")
	if err != nil {
		return nil, err
	}
	return &Schemas{hello: hello, act: act}, nil
}

func (s *Schemas) ValidateHello(raw []byte) error { return validate(s.hello, raw) }
func (s *Schemas) ValidateAct(raw []byte) error   { return validate(s.act, raw) }

func validate(schema *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return schema.Validate(v)
}
