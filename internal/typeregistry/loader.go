package typeregistry

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/metarepo/internal/domain"
)

// typeNamespace seeds GUIDs for definitions that do not declare one, so the
// same catalogue always yields the same GUIDs.
var typeNamespace = uuid.MustParse("6b1f9c3e-2d4a-4b8e-9f51-0c7a2e6d8b14")

type catalogueDoc struct {
	TypeDefs []typeDefDoc `yaml:"typeDefs"`
}

type typeDefDoc struct {
	GUID               string           `yaml:"guid"`
	Name               string           `yaml:"name"`
	Category           string           `yaml:"category"`
	Version            int64            `yaml:"version"`
	Description        string           `yaml:"description"`
	SuperType          *domain.TypeRef  `yaml:"superType"`
	InitialStatus      string           `yaml:"initialStatus"`
	ValidStatuses      []string         `yaml:"validStatuses"`
	OpenProperties     bool             `yaml:"openProperties"`
	SupportsSoftDelete *bool            `yaml:"supportsSoftDelete"`
	SupportsUndo       *bool            `yaml:"supportsUndo"`
	Attributes         []attributeDoc   `yaml:"attributes"`
	EndDef1            *endDefDoc       `yaml:"endDef1"`
	EndDef2            *endDefDoc       `yaml:"endDef2"`
	ValidEntityDefs    []domain.TypeRef `yaml:"validEntityDefs"`
}

type attributeDoc struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Category    string             `yaml:"category"`
	Primitive   string             `yaml:"primitive"`
	EnumValues  []domain.EnumValue `yaml:"enumValues"`
	MapValue    string             `yaml:"mapValue"`
	Cardinality string             `yaml:"cardinality"`
	Unique      bool               `yaml:"unique"`
}

type endDefDoc struct {
	EntityType    domain.TypeRef `yaml:"entityType"`
	AttributeName string         `yaml:"attributeName"`
	Cardinality   string         `yaml:"cardinality"`
}

// Decode reads a YAML catalogue document into type definitions.
func Decode(r io.Reader) ([]domain.TypeDef, error) {
	var doc catalogueDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode type catalogue: %w", err)
	}

	defs := make([]domain.TypeDef, 0, len(doc.TypeDefs))
	for _, d := range doc.TypeDefs {
		defs = append(defs, d.toTypeDef())
	}
	return defs, nil
}

func (d typeDefDoc) toTypeDef() domain.TypeDef {
	def := domain.TypeDef{
		GUID:               d.GUID,
		Name:               d.Name,
		Category:           domain.TypeDefCategory(strings.ToUpper(d.Category)),
		Version:            d.Version,
		Description:        d.Description,
		SuperType:          d.SuperType,
		InitialStatus:      domain.InstanceStatus(strings.ToUpper(d.InitialStatus)),
		OpenProperties:     d.OpenProperties,
		SupportsSoftDelete: d.SupportsSoftDelete == nil || *d.SupportsSoftDelete,
		SupportsUndo:       d.SupportsUndo == nil || *d.SupportsUndo,
		ValidEntityDefs:    d.ValidEntityDefs,
	}
	if def.GUID == "" {
		def.GUID = uuid.NewSHA1(typeNamespace, []byte(d.Name)).String()
	}
	if def.Version == 0 {
		def.Version = 1
	}
	for _, s := range d.ValidStatuses {
		def.ValidStatuses = append(def.ValidStatuses, domain.InstanceStatus(strings.ToUpper(s)))
	}
	if def.InitialStatus == "" && len(def.ValidStatuses) > 0 {
		def.InitialStatus = def.ValidStatuses[0]
		if slices.Contains(def.ValidStatuses, domain.StatusActive) {
			def.InitialStatus = domain.StatusActive
		}
	}
	for _, a := range d.Attributes {
		attr := domain.AttributeDef{
			Name:        a.Name,
			Description: a.Description,
			Category:    domain.PropertyCategory(strings.ToUpper(a.Category)),
			Primitive:   domain.PrimitiveKind(strings.ToUpper(a.Primitive)),
			EnumValues:  a.EnumValues,
			MapValue:    domain.PrimitiveKind(strings.ToUpper(a.MapValue)),
			Cardinality: domain.Cardinality(strings.ToUpper(a.Cardinality)),
			Unique:      a.Unique,
		}
		if attr.Category == "" {
			attr.Category = domain.CategoryPrimitive
		}
		if attr.Cardinality == "" {
			attr.Cardinality = domain.CardinalityAtMostOne
		}
		def.Attributes = append(def.Attributes, attr)
	}
	if d.EndDef1 != nil {
		def.EndOne = d.EndDef1.toEndDef()
	}
	if d.EndDef2 != nil {
		def.EndTwo = d.EndDef2.toEndDef()
	}
	return def
}

func (d endDefDoc) toEndDef() domain.RelationshipEndDef {
	card := domain.Cardinality(strings.ToUpper(d.Cardinality))
	if card == "" {
		card = domain.CardinalityAnyNumberUnordered
	}
	return domain.RelationshipEndDef{EntityType: d.EntityType, AttributeName: d.AttributeName, Cardinality: card}
}

// LoadFiles reads every catalogue file named by paths. Directories are
// scanned for *.yaml and *.yml files in lexical order.
func LoadFiles(paths ...string) (*Catalogue, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat type catalogue %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(p, pattern))
			if err != nil {
				return nil, fmt.Errorf("scan type catalogue %s: %w", p, err)
			}
			files = append(files, matches...)
		}
	}
	slices.Sort(files)

	var defs []domain.TypeDef
	for _, file := range files {
		fileDefs, err := loadFile(file)
		if err != nil {
			return nil, err
		}
		defs = append(defs, fileDefs...)
	}
	cat, err := New(defs...)
	if err != nil {
		return nil, fmt.Errorf("resolve type catalogue: %w", err)
	}
	return cat, nil
}

func loadFile(path string) ([]domain.TypeDef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open type catalogue %s: %w", path, err)
	}
	defer f.Close()

	defs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}
