package kb

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/signalsfoundry/rti/model"
)

// Dimension is a resolved DDM dimension.
type Dimension struct {
	Handle     model.DimensionHandle `json:"handle"`
	Name       string                `json:"name"`
	UpperBound uint64                `json:"upperBound"`
}

// Attribute is a resolved attribute. Handles are unique model-wide.
type Attribute struct {
	Handle     model.AttributeHandle   `json:"handle"`
	Name       string                  `json:"name"`
	Class      model.ObjectClassHandle `json:"class"`
	Dimensions []model.DimensionHandle `json:"dimensions,omitempty"`
	Order      model.OrderType         `json:"order"`
}

// ObjectClass is a resolved object class. Attributes lists only the
// attributes the class itself declares.
type ObjectClass struct {
	Handle     model.ObjectClassHandle `json:"handle"`
	Name       string                  `json:"name"`
	Parent     model.ObjectClassHandle `json:"parent,omitempty"`
	Attributes []model.AttributeHandle `json:"attributes,omitempty"`
}

// Parameter is a resolved interaction parameter.
type Parameter struct {
	Handle model.ParameterHandle        `json:"handle"`
	Name   string                       `json:"name"`
	Class  model.InteractionClassHandle `json:"class"`
}

// InteractionClass is a resolved interaction class.
type InteractionClass struct {
	Handle     model.InteractionClassHandle `json:"handle"`
	Name       string                       `json:"name"`
	Parent     model.InteractionClassHandle `json:"parent,omitempty"`
	Parameters []model.ParameterHandle      `json:"parameters,omitempty"`
	Dimensions []model.DimensionHandle      `json:"dimensions,omitempty"`
	Order      model.OrderType              `json:"order"`
}

// ObjectModel is the merged, handle-resolved object model of a federation.
// It is immutable once built and safe to share between goroutines.
// Slices are indexed by handle-1.
type ObjectModel struct {
	Modules            []string           `json:"modules"`
	Dimensions         []Dimension        `json:"dimensions"`
	ObjectClasses      []ObjectClass      `json:"objectClasses"`
	Attributes         []Attribute        `json:"attributes"`
	InteractionClasses []InteractionClass `json:"interactionClasses"`
	Parameters         []Parameter        `json:"parameters"`

	dimensionNames   map[string]model.DimensionHandle
	objectNames      map[string]model.ObjectClassHandle
	interactionNames map[string]model.InteractionClassHandle
}

// Build merges modules into an object model. The object and interaction
// roots are always present. A class defined in several modules is merged;
// an attribute or dimension redefined with different properties is an
// InconsistentFDD error.
func Build(modules ...*Module) (*ObjectModel, error) {
	b := newBuilder()
	for _, m := range modules {
		if m == nil {
			continue
		}
		if err := b.add(m); err != nil {
			return nil, fmt.Errorf("module %q: %w", m.Name, err)
		}
	}
	b.om.index()
	return b.om, nil
}

// UnmarshalJSON restores the lookup indexes after decoding.
func (om *ObjectModel) UnmarshalJSON(data []byte) error {
	type plain ObjectModel
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*om = ObjectModel(p)
	om.index()
	return nil
}

func (om *ObjectModel) index() {
	om.dimensionNames = make(map[string]model.DimensionHandle, len(om.Dimensions))
	for _, d := range om.Dimensions {
		om.dimensionNames[d.Name] = d.Handle
	}
	om.objectNames = make(map[string]model.ObjectClassHandle, len(om.ObjectClasses))
	for _, c := range om.ObjectClasses {
		om.objectNames[c.Name] = c.Handle
	}
	om.interactionNames = make(map[string]model.InteractionClassHandle, len(om.InteractionClasses))
	for _, c := range om.InteractionClasses {
		om.interactionNames[c.Name] = c.Handle
	}
}

// ObjectRoot returns the handle of HLAobjectRoot.
func (om *ObjectModel) ObjectRoot() model.ObjectClassHandle { return 1 }

// InteractionRoot returns the handle of HLAinteractionRoot.
func (om *ObjectModel) InteractionRoot() model.InteractionClassHandle { return 1 }

// PrivilegeToDelete returns the handle of HLAprivilegeToDeleteObject.
func (om *ObjectModel) PrivilegeToDelete() model.AttributeHandle { return 1 }

// Dimension looks up a dimension by handle.
func (om *ObjectModel) Dimension(h model.DimensionHandle) (*Dimension, bool) {
	if h == 0 || int(h) > len(om.Dimensions) {
		return nil, false
	}
	return &om.Dimensions[h-1], true
}

// DimensionByName looks up a dimension by name.
func (om *ObjectModel) DimensionByName(name string) (model.DimensionHandle, error) {
	if h, ok := om.dimensionNames[name]; ok {
		return h, nil
	}
	return 0, model.Errorf(model.InvalidDimensionHandle, "dimension %q not defined", name)
}

// ObjectClass looks up an object class by handle.
func (om *ObjectModel) ObjectClass(h model.ObjectClassHandle) (*ObjectClass, bool) {
	if h == 0 || int(h) > len(om.ObjectClasses) {
		return nil, false
	}
	return &om.ObjectClasses[h-1], true
}

// ObjectClassByName accepts qualified names and names without the root
// prefix.
func (om *ObjectModel) ObjectClassByName(name string) (model.ObjectClassHandle, error) {
	if h, ok := om.objectNames[qualify(ObjectRootName, name)]; ok {
		return h, nil
	}
	return 0, model.Errorf(model.ObjectClassNotDefined, "object class %q not defined", name)
}

// Attribute looks up an attribute by handle.
func (om *ObjectModel) Attribute(h model.AttributeHandle) (*Attribute, bool) {
	if h == 0 || int(h) > len(om.Attributes) {
		return nil, false
	}
	return &om.Attributes[h-1], true
}

// AttributeByName finds an attribute available at class, searching
// the class and its ancestors.
func (om *ObjectModel) AttributeByName(class model.ObjectClassHandle, name string) (model.AttributeHandle, error) {
	for c, ok := om.ObjectClass(class); ok; c, ok = om.ObjectClass(c.Parent) {
		for _, a := range c.Attributes {
			if om.Attributes[a-1].Name == name {
				return a, nil
			}
		}
	}
	return 0, model.Errorf(model.AttributeNotDefined, "attribute %q not defined for class %d", name, class)
}

// ClassAttributes returns every attribute available at class, inherited
// ones first.
func (om *ObjectModel) ClassAttributes(class model.ObjectClassHandle) []model.AttributeHandle {
	var out []model.AttributeHandle
	for _, c := range om.ObjectClassAncestry(class) {
		out = append(out, om.ObjectClasses[c-1].Attributes...)
	}
	return out
}

// HasAttribute reports whether attr is available at class.
func (om *ObjectModel) HasAttribute(class model.ObjectClassHandle, attr model.AttributeHandle) bool {
	a, ok := om.Attribute(attr)
	if !ok {
		return false
	}
	return om.IsObjectSubclass(class, a.Class)
}

// ObjectClassAncestry returns the chain from the root down to class.
func (om *ObjectModel) ObjectClassAncestry(class model.ObjectClassHandle) []model.ObjectClassHandle {
	var out []model.ObjectClassHandle
	for c, ok := om.ObjectClass(class); ok; c, ok = om.ObjectClass(c.Parent) {
		out = append(out, c.Handle)
	}
	slices.Reverse(out)
	return out
}

// IsObjectSubclass reports whether class equals ancestor or derives from it.
func (om *ObjectModel) IsObjectSubclass(class, ancestor model.ObjectClassHandle) bool {
	for c, ok := om.ObjectClass(class); ok; c, ok = om.ObjectClass(c.Parent) {
		if c.Handle == ancestor {
			return true
		}
	}
	return false
}

// NearestObjectClass walks from class toward the root and returns the
// first class accepted by match.
func (om *ObjectModel) NearestObjectClass(class model.ObjectClassHandle, match func(model.ObjectClassHandle) bool) (model.ObjectClassHandle, bool) {
	for c, ok := om.ObjectClass(class); ok; c, ok = om.ObjectClass(c.Parent) {
		if match(c.Handle) {
			return c.Handle, true
		}
	}
	return 0, false
}

// InteractionClass looks up an interaction class by handle.
func (om *ObjectModel) InteractionClass(h model.InteractionClassHandle) (*InteractionClass, bool) {
	if h == 0 || int(h) > len(om.InteractionClasses) {
		return nil, false
	}
	return &om.InteractionClasses[h-1], true
}

// InteractionClassByName accepts qualified names and names without the
// root prefix.
func (om *ObjectModel) InteractionClassByName(name string) (model.InteractionClassHandle, error) {
	if h, ok := om.interactionNames[qualify(InteractionRootName, name)]; ok {
		return h, nil
	}
	return 0, model.Errorf(model.InteractionClassNotDefined, "interaction class %q not defined", name)
}

// Parameter looks up a parameter by handle.
func (om *ObjectModel) Parameter(h model.ParameterHandle) (*Parameter, bool) {
	if h == 0 || int(h) > len(om.Parameters) {
		return nil, false
	}
	return &om.Parameters[h-1], true
}

// ParameterByName finds a parameter available at class.
func (om *ObjectModel) ParameterByName(class model.InteractionClassHandle, name string) (model.ParameterHandle, error) {
	for c, ok := om.InteractionClass(class); ok; c, ok = om.InteractionClass(c.Parent) {
		for _, p := range c.Parameters {
			if om.Parameters[p-1].Name == name {
				return p, nil
			}
		}
	}
	return 0, model.Errorf(model.InteractionParameterNotDefined, "parameter %q not defined for class %d", name, class)
}

// HasParameter reports whether param is available at class.
func (om *ObjectModel) HasParameter(class model.InteractionClassHandle, param model.ParameterHandle) bool {
	p, ok := om.Parameter(param)
	if !ok {
		return false
	}
	return om.IsInteractionSubclass(class, p.Class)
}

// IsInteractionSubclass reports whether class equals ancestor or derives
// from it.
func (om *ObjectModel) IsInteractionSubclass(class, ancestor model.InteractionClassHandle) bool {
	for c, ok := om.InteractionClass(class); ok; c, ok = om.InteractionClass(c.Parent) {
		if c.Handle == ancestor {
			return true
		}
	}
	return false
}

// NearestInteractionClass walks from class toward the root and returns
// the first class accepted by match.
func (om *ObjectModel) NearestInteractionClass(class model.InteractionClassHandle, match func(model.InteractionClassHandle) bool) (model.InteractionClassHandle, bool) {
	for c, ok := om.InteractionClass(class); ok; c, ok = om.InteractionClass(c.Parent) {
		if match(c.Handle) {
			return c.Handle, true
		}
	}
	return 0, false
}

// builder accumulates modules into an ObjectModel.
type builder struct {
	om *ObjectModel
}

func newBuilder() *builder {
	om := &ObjectModel{}
	om.ObjectClasses = append(om.ObjectClasses, ObjectClass{Handle: 1, Name: ObjectRootName})
	om.Attributes = append(om.Attributes, Attribute{Handle: 1, Name: PrivilegeToDeleteObject, Class: 1})
	om.ObjectClasses[0].Attributes = []model.AttributeHandle{1}
	om.InteractionClasses = append(om.InteractionClasses, InteractionClass{Handle: 1, Name: InteractionRootName})
	om.index()
	return &builder{om: om}
}

func (b *builder) add(m *Module) error {
	om := b.om
	om.Modules = append(om.Modules, m.Name)

	for _, d := range m.Dimensions {
		if d.Name == "" {
			return fmt.Errorf("%w: unnamed dimension", model.ErrInconsistentFDD)
		}
		if h, ok := om.dimensionNames[d.Name]; ok {
			if om.Dimensions[h-1].UpperBound != d.UpperBound {
				return fmt.Errorf("%w: dimension %q redefined with a different upper bound", model.ErrInconsistentFDD, d.Name)
			}
			continue
		}
		h := model.DimensionHandle(len(om.Dimensions) + 1)
		om.Dimensions = append(om.Dimensions, Dimension{Handle: h, Name: d.Name, UpperBound: d.UpperBound})
		om.dimensionNames[d.Name] = h
	}

	for _, def := range m.ObjectClasses {
		class := b.ensureObjectClass(qualify(ObjectRootName, def.Name))
		for _, ad := range def.Attributes {
			if err := b.addAttribute(class, ad); err != nil {
				return err
			}
		}
	}

	for _, def := range m.InteractionClasses {
		class := b.ensureInteractionClass(qualify(InteractionRootName, def.Name))
		ic := &om.InteractionClasses[class-1]
		order, err := parseOrder(def.Order)
		if err != nil {
			return err
		}
		dims, err := b.dimensions(def.Dimensions)
		if err != nil {
			return err
		}
		if len(ic.Parameters) > 0 || len(ic.Dimensions) > 0 || ic.Order != model.ReceiveOrder {
			if ic.Order != order || !slices.Equal(ic.Dimensions, dims) {
				return fmt.Errorf("%w: interaction class %q redefined", model.ErrInconsistentFDD, ic.Name)
			}
		}
		ic.Order, ic.Dimensions = order, dims
		for _, name := range def.Parameters {
			if p, err := om.ParameterByName(class, name); err == nil {
				if om.Parameters[p-1].Class != class {
					return fmt.Errorf("%w: parameter %q shadows an inherited parameter", model.ErrInconsistentFDD, name)
				}
				continue
			}
			h := model.ParameterHandle(len(om.Parameters) + 1)
			om.Parameters = append(om.Parameters, Parameter{Handle: h, Name: name, Class: class})
			ic.Parameters = append(ic.Parameters, h)
		}
	}
	return nil
}

func (b *builder) addAttribute(class model.ObjectClassHandle, ad AttributeDef) error {
	om := b.om
	if ad.Name == "" {
		return fmt.Errorf("%w: unnamed attribute", model.ErrInconsistentFDD)
	}
	order, err := parseOrder(ad.Order)
	if err != nil {
		return err
	}
	dims, err := b.dimensions(ad.Dimensions)
	if err != nil {
		return err
	}
	if existing, err := om.AttributeByName(class, ad.Name); err == nil {
		a := om.Attributes[existing-1]
		if a.Class != class {
			return fmt.Errorf("%w: attribute %q shadows an inherited attribute", model.ErrInconsistentFDD, ad.Name)
		}
		if a.Order != order || !slices.Equal(a.Dimensions, dims) {
			return fmt.Errorf("%w: attribute %q redefined", model.ErrInconsistentFDD, ad.Name)
		}
		return nil
	}
	h := model.AttributeHandle(len(om.Attributes) + 1)
	om.Attributes = append(om.Attributes, Attribute{Handle: h, Name: ad.Name, Class: class, Dimensions: dims, Order: order})
	om.ObjectClasses[class-1].Attributes = append(om.ObjectClasses[class-1].Attributes, h)
	return nil
}

func (b *builder) dimensions(names []string) ([]model.DimensionHandle, error) {
	var out []model.DimensionHandle
	for _, n := range names {
		h, ok := b.om.dimensionNames[n]
		if !ok {
			return nil, fmt.Errorf("%w: dimension %q not defined", model.ErrInconsistentFDD, n)
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return out, nil
}

func (b *builder) ensureObjectClass(name string) model.ObjectClassHandle {
	if h, ok := b.om.objectNames[name]; ok {
		return h
	}
	parent := b.ensureObjectClass(parentName(name))
	h := model.ObjectClassHandle(len(b.om.ObjectClasses) + 1)
	b.om.ObjectClasses = append(b.om.ObjectClasses, ObjectClass{Handle: h, Name: name, Parent: parent})
	b.om.objectNames[name] = h
	return h
}

func (b *builder) ensureInteractionClass(name string) model.InteractionClassHandle {
	if h, ok := b.om.interactionNames[name]; ok {
		return h
	}
	parent := b.ensureInteractionClass(parentName(name))
	h := model.InteractionClassHandle(len(b.om.InteractionClasses) + 1)
	b.om.InteractionClasses = append(b.om.InteractionClasses, InteractionClass{Handle: h, Name: name, Parent: parent})
	b.om.interactionNames[name] = h
	return h
}

// String summarises the model for logs.
func (om *ObjectModel) String() string {
	return fmt.Sprintf("modules=[%s] objectClasses=%d attributes=%d interactionClasses=%d dimensions=%d",
		strings.Join(om.Modules, ","), len(om.ObjectClasses), len(om.Attributes), len(om.InteractionClasses), len(om.Dimensions))
}
