package tools

import "github.com/cloudwego/eino/schema"

// RetrievalToolName is the pseudo-tool the model selects when none of the
// structured query tools can answer and the knowledge base should be
// searched instead. The router intercepts this name and runs the retrieval
// pipeline itself; there is no invokable implementation behind it.
const RetrievalToolName = "RAGCalling"

// RetrievalToolInfo returns the declaration of the retrieval pseudo-tool
// sent to the model alongside the crop query tool schemas.
func RetrievalToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: RetrievalToolName,
		Desc: "Search the crop strategy knowledge base. Call this when the other tools " +
			"cannot answer the question and background information is needed.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}
}
