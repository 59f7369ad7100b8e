package scripthost

// ReturnKind tags which shape a stage's script return took (spec §4.10.1,
// §8 "Multi-return from scripts"). Matching on this variant at each stage
// boundary replaces exceptions/magic-value sniffing.
type ReturnKind int

const (
	ReturnNone ReturnKind = iota
	ReturnValue
	ReturnBeforeAllResponse
	ReturnDataResponse
	ReturnSkip
	ReturnAfterAllResponse
)

// ScriptReturn is the decoded result of a BeforeAll/Data/Output/AfterAll
// script invocation.
type ScriptReturn struct {
	Kind ReturnKind

	// ReturnValue
	Value Value

	// ReturnBeforeAllResponse
	Inputs    []Value // nil means "keep I0"
	HasInputs bool
	Options   Value // merged as a per-run override; Nil/zero-Kind means absent
	BeforeAll Value

	// ReturnDataResponse
	Input        Value
	HasInput     bool
	Data         Value
	HasData      bool
	Attachments  []Value
	HasOptionsOv bool
	OptionsOv    Value

	// ReturnSkip
	SkipReason string

	// ReturnAfterAllResponse (spec_full supplement, symmetric with
	// before_all_response: lets AfterAll scripts return a result and
	// set the Run's recorded label without a separate API).
	AfterAllResult Value
	AfterAllLabel  string
	HasAfterLabel  bool
}

// flowKindKey is the hidden field the aip.flow.* factories stamp onto the
// tables they build, letting DecodeScriptReturn recognize a tagged
// response versus a plain user value of the same shape.
const flowKindKey = "__aip_flow_kind"

const (
	flowKindBeforeAll = "before_all_response"
	flowKindData      = "data_response"
	flowKindSkip      = "skip"
	flowKindAfterAll  = "after_all_response"
)

// DecodeScriptReturn classifies a Value returned from a stage script.
func DecodeScriptReturn(v Value) ScriptReturn {
	if v.Kind == KindNil {
		return ScriptReturn{Kind: ReturnNone}
	}
	if v.Kind == KindMap {
		if tag, ok := v.Map[flowKindKey]; ok && tag.Kind == KindStr {
			switch tag.Str {
			case flowKindBeforeAll:
				return decodeBeforeAllResponse(v.Map)
			case flowKindData:
				return decodeDataResponse(v.Map)
			case flowKindSkip:
				reason := ""
				if r, ok := v.Map["reason"]; ok && r.Kind == KindStr {
					reason = r.Str
				}
				return ScriptReturn{Kind: ReturnSkip, SkipReason: reason}
			case flowKindAfterAll:
				return decodeAfterAllResponse(v.Map)
			}
		}
	}
	return ScriptReturn{Kind: ReturnValue, Value: v}
}

func decodeBeforeAllResponse(m map[string]Value) ScriptReturn {
	sr := ScriptReturn{Kind: ReturnBeforeAllResponse}
	if ba, ok := m["before_all"]; ok {
		sr.BeforeAll = ba
	}
	if opts, ok := m["options"]; ok {
		sr.Options = opts
	}
	if in, ok := m["inputs"]; ok && in.Kind == KindArray {
		sr.Inputs = in.Array
		sr.HasInputs = true
	}
	return sr
}

func decodeDataResponse(m map[string]Value) ScriptReturn {
	sr := ScriptReturn{Kind: ReturnDataResponse}
	if in, ok := m["input"]; ok {
		sr.Input = in
		sr.HasInput = true
	}
	if d, ok := m["data"]; ok {
		sr.Data = d
		sr.HasData = true
	}
	if opts, ok := m["options"]; ok {
		sr.OptionsOv = opts
		sr.HasOptionsOv = true
	}
	if att, ok := m["attachments"]; ok && att.Kind == KindArray {
		sr.Attachments = att.Array
	}
	return sr
}

func decodeAfterAllResponse(m map[string]Value) ScriptReturn {
	sr := ScriptReturn{Kind: ReturnAfterAllResponse}
	if r, ok := m["result"]; ok {
		sr.AfterAllResult = r
	}
	if l, ok := m["label"]; ok && l.Kind == KindStr {
		sr.AfterAllLabel = l.Str
		sr.HasAfterLabel = true
	}
	return sr
}
