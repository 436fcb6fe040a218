package capability

import "github.com/getkin/kin-openapi/openapi3"

// Capability names dispatched by the pipeline.
const (
	CapabilityClassify  = "classify_document"
	CapabilityLegal     = "legal_terms_analyzer"
	CapabilitySecurity  = "security_posture_analyzer"
	CapabilitySynthesis = "vendor_risk_reporter"
)

// Schemas returns the response schema for every known capability. Every
// capability response is untrusted input; it must validate against its schema
// before anything downstream sees it.
func Schemas() map[string]*openapi3.Schema {
	return map[string]*openapi3.Schema{
		CapabilityClassify:  classifySchema(),
		CapabilityLegal:     legalSchema(),
		CapabilitySecurity:  securitySchema(),
		CapabilitySynthesis: synthesisSchema(),
	}
}

func classifySchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("categories", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))
	s.Required = []string{"categories"}
	return s
}

func findingSchema(headline string) *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty(headline, openapi3.NewStringSchema()).
		WithProperty("summary", openapi3.NewStringSchema()).
		WithProperty("recommendation", openapi3.NewStringSchema())
	s.Required = []string{headline, "summary"}
	return s
}

func legalSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("summary", openapi3.NewStringSchema()).
		WithProperty("key_legal_risks", openapi3.NewArraySchema().WithItems(findingSchema("risk"))).
		WithProperty("positive_findings", openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema()))
	s.Required = []string{"summary"}
	return s
}

func securitySchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("summary", openapi3.NewStringSchema()).
		WithProperty("key_security_gaps", openapi3.NewArraySchema().WithItems(findingSchema("gap"))).
		WithProperty("certifications", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
		WithProperty("positive_findings", openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema()))
	s.Required = []string{"summary"}
	return s
}

func synthesisSchema() *openapi3.Schema {
	report := openapi3.NewObjectSchema().
		WithProperty("overall_assessment", openapi3.NewStringSchema()).
		WithProperty("executive_summary", openapi3.NewStringSchema()).
		WithProperty("positive_findings", openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema())).
		WithProperty("key_legal_risks", openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema())).
		WithProperty("key_security_gaps", openapi3.NewArraySchema().WithItems(openapi3.NewObjectSchema()))
	report.Required = []string{"overall_assessment", "executive_summary"}

	draft := openapi3.NewObjectSchema().
		WithProperty("processor_name", openapi3.NewStringSchema()).
		WithProperty("service_description", openapi3.NewStringSchema()).
		WithProperty("usage_summary", openapi3.NewStringSchema()).
		WithProperty("risk_rating", openapi3.NewStringSchema().
			WithEnum("Low", "Medium", "High", "Critical")).
		WithProperty("data_processing_status", openapi3.NewStringSchema().
			WithEnum("Processor", "Controller", "N/A")).
		WithProperty("key_legal_finding", openapi3.NewStringSchema()).
		WithProperty("key_security_finding", openapi3.NewStringSchema()).
		WithProperty("mitigations", openapi3.NewStringSchema()).
		WithProperty("relationship_owner", openapi3.NewStringSchema()).
		WithProperty("termination_notice", openapi3.NewStringSchema())
	draft.Required = []string{"processor_name", "risk_rating", "data_processing_status"}

	s := openapi3.NewObjectSchema().
		WithProperty("report", report).
		WithProperty("draft_approval_data", draft)
	s.Required = []string{"report", "draft_approval_data"}
	return s
}
