package scripthost

// Ctx is the read-only CTX table injected as a Lua global before every
// stage invocation (spec §4.4 "CTX"). Pack-scoped fields are empty when
// the agent was invoked by path rather than by pack reference.
type Ctx struct {
	SessionUID    string
	RunUID        string
	TaskUID       string // empty outside a per-task stage
	WorkspaceDir  string
	BaseAipackDir string
	AgentName     string
	AgentFilePath string
	AgentFileDir  string
	AgentFileName string
	AgentFileStem string
	TmpDir        string

	PackNamespace           string
	PackName                string
	PackRef                 string
	PackIdentity            string
	PackWorkspaceSupportDir string
	PackBaseSupportDir      string
}

func (c Ctx) toValue() Value {
	m := map[string]Value{
		"SESSION_UID":     Str(c.SessionUID),
		"RUN_UID":         Str(c.RunUID),
		"WORKSPACE_DIR":   Str(c.WorkspaceDir),
		"BASE_AIPACK_DIR": Str(c.BaseAipackDir),
		"AGENT_NAME":      Str(c.AgentName),
		"AGENT_FILE_PATH": Str(c.AgentFilePath),
		"AGENT_FILE_DIR":  Str(c.AgentFileDir),
		"AGENT_FILE_NAME": Str(c.AgentFileName),
		"AGENT_FILE_STEM": Str(c.AgentFileStem),
		"TMP_DIR":         Str(c.TmpDir),
	}
	if c.TaskUID != "" {
		m["TASK_UID"] = Str(c.TaskUID)
	} else {
		m["TASK_UID"] = Null
	}
	if c.PackNamespace != "" {
		m["PACK_NAMESPACE"] = Str(c.PackNamespace)
		m["PACK_NAME"] = Str(c.PackName)
		m["PACK_REF"] = Str(c.PackRef)
		m["PACK_IDENTITY"] = Str(c.PackIdentity)
		m["PACK_WORKSPACE_SUPPORT_DIR"] = Str(c.PackWorkspaceSupportDir)
		m["PACK_BASE_SUPPORT_DIR"] = Str(c.PackBaseSupportDir)
	} else {
		m["PACK_NAMESPACE"] = Null
		m["PACK_NAME"] = Null
		m["PACK_REF"] = Null
		m["PACK_IDENTITY"] = Null
		m["PACK_WORKSPACE_SUPPORT_DIR"] = Null
		m["PACK_BASE_SUPPORT_DIR"] = Null
	}
	return Map(m)
}
