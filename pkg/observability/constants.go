package observability

const (
	AttrModel        = "llm.model"
	AttrTokensInput  = "llm.tokens.input"
	AttrTokensOutput = "llm.tokens.output"
	AttrToolName     = "tool.name"
	AttrStoreID      = "vector.store_id"
	AttrIteration    = "search.iteration"
	AttrResponseID   = "response.id"
	AttrErrorKind    = "error.kind"

	SpanResponse      = "gateway.response"
	SpanLLMRequest    = "gateway.llm_request"
	SpanToolExecution = "gateway.tool_execution"
	SpanVectorSearch  = "gateway.vector_search"
	SpanAgenticSearch = "gateway.agentic_search"

	DefaultServiceName = "responses-gateway"
)
