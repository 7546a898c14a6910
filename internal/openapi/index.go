// Package openapi indexes the portal backend's OpenAPI description so the
// client resolves operations by operationId instead of hard-coding routes.
package openapi

import (
	"context"
	_ "embed"
	"fmt"
	"maps"
	"slices"

	"github.com/getkin/kin-openapi/openapi3"
)

// PortalService is the service id the portal backend is indexed under.
const PortalService = "portal"

//go:embed portal.yaml
var portalSpec []byte

// SpecSource describes an OpenAPI document to load, either from SpecPath or
// from inline Data.
type SpecSource struct {
	ServiceID string
	BaseURL   string
	SpecPath  string
	Data      []byte
}

// PortalSource returns the built-in portal description. A non-empty specPath
// replaces it with a file.
func PortalSource(baseURL, specPath string) SpecSource {
	if specPath != "" {
		return SpecSource{ServiceID: PortalService, BaseURL: baseURL, SpecPath: specPath}
	}
	return SpecSource{ServiceID: PortalService, BaseURL: baseURL, Data: portalSpec}
}

// IndexedOperation is one operation of an indexed service, with the path
// and operation level parameters merged.
type IndexedOperation struct {
	ServiceID    string
	OperationID  string
	Method       string
	PathTemplate string
	BaseURL      string
	Parameters   []*openapi3.Parameter

	// BodyMediaTypes lists the request content types the operation
	// accepts, sorted. Empty when it takes no body.
	BodyMediaTypes []string
}

// Accepts reports whether the operation takes a body of mediaType.
func (op IndexedOperation) Accepts(mediaType string) bool {
	_, found := slices.BinarySearch(op.BodyMediaTypes, mediaType)
	return found
}

// ValidationError describes a missing or malformed request parameter.
type ValidationError struct {
	Field   string
	Message string
}

// Index maps (service, operationId) to operations. It is built once at
// startup and read-only afterwards.
type Index struct {
	operations map[string]IndexedOperation
	byService  map[string][]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		operations: make(map[string]IndexedOperation),
		byService:  make(map[string][]string),
	}
}

func operationKey(serviceID, operationID string) string {
	return serviceID + ":" + operationID
}

// Load parses and validates each source, then indexes every operation that
// carries an operationId. External $refs are refused. A later source
// replaces an operation id already indexed for the same service.
func (idx *Index) Load(specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range specs {
		doc, err := loadDocument(loader, src)
		if err != nil {
			return err
		}
		baseURL := src.BaseURL
		if baseURL == "" && len(doc.Servers) > 0 {
			baseURL = doc.Servers[0].URL
		}
		for path, item := range doc.Paths.Map() {
			for method, op := range item.Operations() {
				if op.OperationID != "" {
					idx.add(IndexedOperation{
						ServiceID:      src.ServiceID,
						OperationID:    op.OperationID,
						Method:         method,
						PathTemplate:   path,
						BaseURL:        baseURL,
						Parameters:     mergeParameters(item.Parameters, op.Parameters),
						BodyMediaTypes: bodyMediaTypes(op.RequestBody),
					})
				}
			}
		}
	}
	return nil
}

func loadDocument(loader *openapi3.Loader, src SpecSource) (*openapi3.T, error) {
	var (
		doc *openapi3.T
		err error
	)
	if src.Data != nil {
		doc, err = loader.LoadFromData(src.Data)
	} else {
		doc, err = loader.LoadFromFile(src.SpecPath)
	}
	if err != nil {
		return nil, fmt.Errorf("openapi: loading %s (%s): %w", src.ServiceID, src.SpecPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating %s: %w", src.ServiceID, err)
	}
	return doc, nil
}

func (idx *Index) add(op IndexedOperation) {
	key := operationKey(op.ServiceID, op.OperationID)
	if _, dup := idx.operations[key]; !dup {
		idx.byService[op.ServiceID] = append(idx.byService[op.ServiceID], op.OperationID)
	}
	idx.operations[key] = op
}

func mergeParameters(sets ...openapi3.Parameters) []*openapi3.Parameter {
	var out []*openapi3.Parameter
	for _, set := range sets {
		for _, ref := range set {
			if ref != nil && ref.Value != nil {
				out = append(out, ref.Value)
			}
		}
	}
	return out
}

func bodyMediaTypes(ref *openapi3.RequestBodyRef) []string {
	if ref == nil || ref.Value == nil {
		return nil
	}
	types := slices.Collect(maps.Keys(ref.Value.Content))
	slices.Sort(types)
	return types
}

// GetOperation returns the indexed operation for the given service and operation ID.
func (idx *Index) GetOperation(serviceID, operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationKey(serviceID, operationID)]
	return op, ok
}

// AllOperationIDs returns all operation IDs for the given service, sorted.
func (idx *Index) AllOperationIDs(serviceID string) []string {
	ids := slices.Clone(idx.byService[serviceID])
	slices.Sort(ids)
	return ids
}

// Require checks that every named operation is indexed for serviceID.
func (idx *Index) Require(serviceID string, operationIDs ...string) error {
	var missing []string
	for _, id := range operationIDs {
		if _, ok := idx.GetOperation(serviceID, id); !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("openapi: %s is missing operations %v", serviceID, missing)
	}
	return nil
}

// ValidateParams checks that every required path and query parameter of the
// operation has a non-empty value.
func (idx *Index) ValidateParams(serviceID, operationID string, path, query map[string]string) []ValidationError {
	op, ok := idx.GetOperation(serviceID, operationID)
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %s/%s not found", serviceID, operationID)}}
	}

	var errs []ValidationError
	for _, p := range op.Parameters {
		if !p.Required {
			continue
		}
		var v string
		switch p.In {
		case openapi3.ParameterInPath:
			v = path[p.Name]
		case openapi3.ParameterInQuery:
			v = query[p.Name]
		default:
			continue
		}
		if v == "" {
			errs = append(errs, ValidationError{
				Field:   p.Name,
				Message: fmt.Sprintf("%s parameter %s is required", p.In, p.Name),
			})
		}
	}
	return errs
}
