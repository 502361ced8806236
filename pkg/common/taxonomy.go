package common

import "strings"

// RelationshipType is the fixed taxonomy of edge types. The candidate
// generator is constrained to these values; anything else fails validation
// per candidate.
type RelationshipType string

const (
	RelWorksFor         RelationshipType = "WORKS_FOR"
	RelLocatedIn        RelationshipType = "LOCATED_IN"
	RelPartOf           RelationshipType = "PART_OF"
	RelOwns             RelationshipType = "OWNS"
	RelCreates          RelationshipType = "CREATES"
	RelUses             RelationshipType = "USES"
	RelCompetesWith     RelationshipType = "COMPETES_WITH"
	RelCollaboratesWith RelationshipType = "COLLABORATES_WITH"
	RelInfluences       RelationshipType = "INFLUENCES"
	RelSimilarTo        RelationshipType = "SIMILAR_TO"
	RelRelatedTo        RelationshipType = "RELATED_TO"
	RelMentionedWith    RelationshipType = "MENTIONED_WITH"
)

// RelationshipTypeDescriptions feeds the extraction prompt and keeps the
// model's choices inside the taxonomy.
var RelationshipTypeDescriptions = map[RelationshipType]string{
	RelWorksFor:         "employment or professional engagement between a person and an organization",
	RelLocatedIn:        "physical or administrative containment in a place",
	RelPartOf:           "structural membership, a component of a larger whole",
	RelOwns:             "ownership or holding of an asset, product, or organization",
	RelCreates:          "authorship or production of a work, product, or concept",
	RelUses:             "usage of a technology, tool, or resource",
	RelCompetesWith:     "competition between organizations or products",
	RelCollaboratesWith: "cooperation between people or organizations",
	RelInfluences:       "one entity shapes or affects another",
	RelSimilarTo:        "strong similarity between comparable entities",
	RelRelatedTo:        "generic association that fits no sharper type",
	RelMentionedWith:    "co-occurrence without a clearer semantic link",
}

// RelationshipTypes returns the taxonomy in a fixed order, used for prompt
// assembly and deterministic listings.
func RelationshipTypes() []RelationshipType {
	return []RelationshipType{
		RelWorksFor, RelLocatedIn, RelPartOf, RelOwns, RelCreates, RelUses,
		RelCompetesWith, RelCollaboratesWith, RelInfluences, RelSimilarTo,
		RelRelatedTo, RelMentionedWith,
	}
}

// ValidRelationshipType reports whether s (case-insensitive) is part of the
// taxonomy.
func ValidRelationshipType(s string) bool {
	_, ok := RelationshipTypeDescriptions[RelationshipType(strings.ToUpper(strings.TrimSpace(s)))]
	return ok
}

// ParseRelationshipType normalizes s into the taxonomy, reporting whether it
// matched.
func ParseRelationshipType(s string) (RelationshipType, bool) {
	t := RelationshipType(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := RelationshipTypeDescriptions[t]
	return t, ok
}

// EntityType is the node type taxonomy offered to the candidate generator.
type EntityType string

const (
	EntPerson       EntityType = "PERSON"
	EntOrganization EntityType = "ORGANIZATION"
	EntLocation     EntityType = "LOCATION"
	EntCity         EntityType = "CITY"
	EntCountry      EntityType = "COUNTRY"
	EntRegion       EntityType = "REGION"
	EntRole         EntityType = "ROLE"
	EntConcept      EntityType = "CONCEPT"
	EntTechnology   EntityType = "TECHNOLOGY"
	EntProduct      EntityType = "PRODUCT"
	EntEvent        EntityType = "EVENT"
	EntDate         EntityType = "DATE"
	EntMetric       EntityType = "METRIC"
	EntDocument     EntityType = "DOCUMENT"
	EntProject      EntityType = "PROJECT"
	EntMaterial     EntityType = "MATERIAL"
	EntProcess      EntityType = "PROCESS"
	EntFact         EntityType = "FACT"
	EntMisc         EntityType = "MISC"
)

var EntityTypeDescriptions = map[EntityType]string{
	EntPerson:       "a natural person",
	EntOrganization: "a company, institution, or other organized group",
	EntLocation:     "a physical place not covered by city, country, or region",
	EntCity:         "a city or town",
	EntCountry:      "a country or sovereign state",
	EntRegion:       "a geographic or administrative region",
	EntRole:         "a job title or function held by a person",
	EntConcept:      "an abstract idea, method, or theory",
	EntTechnology:   "a technology, system, or technical standard",
	EntProduct:      "a product or service offered to others",
	EntEvent:        "a named occurrence at a point or span of time",
	EntDate:         "a date or time expression",
	EntMetric:       "a measured or reported quantity",
	EntDocument:     "a referenced document or publication",
	EntProject:      "a named project or initiative",
	EntMaterial:     "a physical substance or material",
	EntProcess:      "a defined procedure or workflow",
	EntFact:         "a standalone fact not attributable to another entity",
	EntMisc:         "anything relevant that fits no other type",
}

// EntityTypes returns the taxonomy in a fixed order.
func EntityTypes() []EntityType {
	return []EntityType{
		EntPerson, EntOrganization, EntLocation, EntCity, EntCountry,
		EntRegion, EntRole, EntConcept, EntTechnology, EntProduct, EntEvent,
		EntDate, EntMetric, EntDocument, EntProject, EntMaterial, EntProcess,
		EntFact, EntMisc,
	}
}

// NormalizeEntityType maps s into the taxonomy. Unknown types fall back to
// MISC instead of failing the candidate.
func NormalizeEntityType(s string) EntityType {
	t := EntityType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := EntityTypeDescriptions[t]; ok {
		return t
	}
	return EntMisc
}
