// Package gen turns raw FHIR definition records into a type graph and
// renders the graph through presets.
//
// # Architecture
//
// The pipeline is strictly sequential:
//
//	load.RawRecord (compiler/load)
//	        ↓
//	   Resolver (canonical URL -> TypeID)
//	        ↓
//	   Graph (immutable, base edges form a forest)
//	        ↓
//	   Modules (per preset naming rule, with import sets)
//	        ↓
//	   Render (pongo2 templates or jennifer code, staged writes)
//
// # Key Types
//
//   - Graph: all Types, ordered bases first, addressed by TypeID
//   - Type: a resource, data type, primitive or inline backbone type
//   - Property: a declared field with its Cardinality and TypeRefs
//   - TypeRef: resolved, unresolved placeholder, or union of references
//   - FieldShape: the multiplicity and choice-ness of a property
//   - Preset: templates, artifacts, Syntax and module naming rule
//
// # Templates
//
// Templates are rendered with pongo2 and receive:
//
//   - types: the TypeViews of the module, bases first
//   - import_modules: the sorted modules the module depends on
//   - module_name, version, preset and every configured variable
//
// together with the filters type_reference, field_declaration, prop_name,
// module_name_for_type, camelize and underscore.
//
// # Error Handling
//
// Graph building fails fast with UnresolvableReferenceError,
// DuplicateTypeIDError or CyclicInheritanceError. Rendering collects
// TemplateError and OutputConflictError values per module and joins them:
//
//	if _, err := gen.Render(ctx, graph, preset); err != nil {
//		if gen.IsTemplateError(err) {
//			// inspect with errors.As
//		}
//	}
package gen
