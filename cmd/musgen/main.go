// Command musgen regenerates the badger record codecs in
// storage/badger/records_mus.gen.go. Run it from the module root or through
// go generate in storage/badger.
package main

import (
	"log"
	"os"
	"path/filepath"
	"reflect"

	musgen "github.com/mus-format/musgen-go/mus"
	genops "github.com/mus-format/musgen-go/options/generate"
	structops "github.com/mus-format/musgen-go/options/struct"
	"github.com/poiesic/civicrag/storage/badger"
)

const output = "storage/badger/records_mus.gen.go"

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	// go generate runs in the package directory.
	if filepath.Base(cwd) == "badger" {
		if err := os.Chdir(filepath.Join("..", "..")); err != nil {
			log.Fatal(err)
		}
	}

	g, err := musgen.NewCodeGenerator(
		genops.WithPkgPath("github.com/poiesic/civicrag/storage/badger"),
	)
	if err != nil {
		log.Fatal(err)
	}

	// One WithField per struct field, in declaration order.
	err = g.AddStruct(reflect.TypeFor[badger.SourceRecord](),
		structops.WithField(), // ID
		structops.WithField(), // ExternalID
		structops.WithField(), // Type
		structops.WithField(), // Title
		structops.WithField(), // Text
		structops.WithField(), // Fingerprint
		structops.WithField(), // FetchedAt
		structops.WithField(), // Status
		structops.WithField(), // LastError
		structops.WithField(), // Domain
		structops.WithField(), // Language
		structops.WithField(), // Layer
		structops.WithField(), // TrustScore
		structops.WithField(), // Country
		structops.WithField(), // State
		structops.WithField(), // District
		structops.WithField(), // Ward
		structops.WithField(), // RawURI
		structops.WithField(), // CreatedAt
		structops.WithField()) // UpdatedAt
	if err != nil {
		log.Fatal(err)
	}

	err = g.AddStruct(reflect.TypeFor[badger.ChunkRecord](),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField())
	if err != nil {
		log.Fatal(err)
	}

	err = g.AddStruct(reflect.TypeFor[badger.LogRecord](),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField(),
		structops.WithField())
	if err != nil {
		log.Fatal(err)
	}

	bs, err := g.Generate()
	if err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(output, bs, 0644); err != nil {
		log.Fatal(err)
	}
}
