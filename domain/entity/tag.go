package entity

// Tag is a derived classification of an entity. Entities with the same tag name are
// listed together, partitioned by Group and ordered by SortValue.
type Tag struct {
	Group     string `json:"group,omitempty"`
	SortValue string `json:"sortValue,omitempty"`
}

// TaggedEntity is one entry of a tag listing.
type TaggedEntity struct {
	Entity
	TagName   string `json:"tagName"`
	Group     string `json:"group,omitempty"`
	SortValue string `json:"sortValue,omitempty"`
}

// TagSet identifies a tag value of an entity uniquely.
type TagSet map[Tag]struct{}

// NewTagSet de-duplicates tags.
func NewTagSet(tags []Tag) TagSet {
	set := make(TagSet, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
	}
	return set
}

// Has reports whether t is in the set.
func (s TagSet) Has(t Tag) bool {
	_, ok := s[t]
	return ok
}
