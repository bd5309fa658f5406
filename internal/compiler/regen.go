package compiler

import (
	"cuelang.org/go/cue"

	"github.com/roach88/kairon/internal/ir"
)

// CompileRegenCatalog parses regeneration descriptors defined under the
// top-level "regen" struct. Each entry maps a step name to the metadata
// needed to re-run that step with a different outcome:
//
//	regen: classify_tag: {
//		label: "Reclassify"
//		alternatives: ["activity", "note", "todo"]
//		template: "reclassify_v1"
//	}
func CompileRegenCatalog(v cue.Value) ([]ir.RegenDescriptor, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	root := v.LookupPath(cue.ParsePath("regen"))
	if !root.Exists() {
		return nil, nil
	}

	iter, err := root.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var descs []ir.RegenDescriptor
	for iter.Next() {
		desc, err := parseRegenDescriptor(iter.Value())
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func parseRegenDescriptor(v cue.Value) (ir.RegenDescriptor, error) {
	var desc ir.RegenDescriptor

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		desc.StepName = labels[len(labels)-1].String()
	}

	labelVal := v.LookupPath(cue.ParsePath("label"))
	if !labelVal.Exists() {
		return desc, &CompileError{
			Field:   "label",
			Message: "label is required",
			Pos:     v.Pos(),
		}
	}
	label, err := labelVal.String()
	if err != nil {
		return desc, formatCUEError(err)
	}
	desc.Label = label

	altVal := v.LookupPath(cue.ParsePath("alternatives"))
	if altVal.Exists() {
		altIter, err := altVal.List()
		if err != nil {
			return desc, formatCUEError(err)
		}
		for altIter.Next() {
			alt, err := altIter.Value().String()
			if err != nil {
				return desc, formatCUEError(err)
			}
			desc.Alternatives = append(desc.Alternatives, alt)
		}
	}

	tmplVal := v.LookupPath(cue.ParsePath("template"))
	if tmplVal.Exists() {
		tmpl, err := tmplVal.String()
		if err != nil {
			return desc, formatCUEError(err)
		}
		desc.Template = tmpl
	}

	return desc, nil
}
