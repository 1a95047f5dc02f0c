package kb

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/signalsfoundry/rti/model"
)

// Root class names every object model carries.
const (
	ObjectRootName          = "HLAobjectRoot"
	InteractionRootName     = "HLAinteractionRoot"
	PrivilegeToDeleteObject = "HLAprivilegeToDeleteObject"
)

// Module is one FOM module: a named bundle of dimensions and classes.
// Class names are dotted paths; the root prefix may be omitted.
type Module struct {
	Name               string                `json:"name"`
	Dimensions         []DimensionDef        `json:"dimensions,omitempty"`
	ObjectClasses      []ObjectClassDef      `json:"objectClasses,omitempty"`
	InteractionClasses []InteractionClassDef `json:"interactionClasses,omitempty"`
}

// DimensionDef declares a DDM dimension.
type DimensionDef struct {
	Name       string `json:"name"`
	UpperBound uint64 `json:"upperBound,omitempty"`
}

// ObjectClassDef declares an object class and the attributes it adds.
type ObjectClassDef struct {
	Name       string         `json:"name"`
	Attributes []AttributeDef `json:"attributes,omitempty"`
}

// AttributeDef declares an attribute.
type AttributeDef struct {
	Name       string   `json:"name"`
	Dimensions []string `json:"dimensions,omitempty"`
	Order      string   `json:"order,omitempty"`
}

// InteractionClassDef declares an interaction class and its parameters.
type InteractionClassDef struct {
	Name       string   `json:"name"`
	Parameters []string `json:"parameters,omitempty"`
	Dimensions []string `json:"dimensions,omitempty"`
	Order      string   `json:"order,omitempty"`
}

// DecodeModule reads a JSON encoded module.
func DecodeModule(r io.Reader) (*Module, error) {
	var m Module
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCouldNotOpenFDD, err)
	}
	if strings.TrimSpace(m.Name) == "" {
		return nil, fmt.Errorf("%w: module without a name", model.ErrCouldNotOpenFDD)
	}
	return &m, nil
}

// LoadModule reads a JSON module from path.
func LoadModule(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCouldNotOpenFDD, err)
	}
	defer f.Close()
	return DecodeModule(f)
}

func parseOrder(s string) (model.OrderType, error) {
	switch strings.ToLower(s) {
	case "", "receive":
		return model.ReceiveOrder, nil
	case "timestamp":
		return model.TimestampOrder, nil
	default:
		return 0, fmt.Errorf("%w: unknown order type %q", model.ErrInconsistentFDD, s)
	}
}

// qualify prefixes root onto name unless it is already there.
func qualify(root, name string) string {
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == root || strings.HasPrefix(name, root+".") {
		return name
	}
	if name == "" {
		return root
	}
	return root + "." + name
}

func parentName(qualified string) string {
	i := strings.LastIndexByte(qualified, '.')
	if i < 0 {
		return ""
	}
	return qualified[:i]
}
