// Package keys maps entities, mutuals and tags onto the single-table key layout.
// Every function is pure and deterministic.
package keys

import "strings"

// Attribute names of the table and its two index key pairs.
const (
	AttrPK   = "PK"
	AttrSK   = "SK"
	AttrR1PK = "R1PK"
	AttrR1SK = "R1SK"
	AttrR2PK = "R2PK"
	AttrR2SK = "R2SK"
)

const (
	// MetadataSK is the sort key of every entity metadata item.
	MetadataSK = "#METADATA#"

	separator     = "#"
	listPrefix    = "LIST#"
	mutualPrefix  = "MUTUAL#"
	tagPrefix     = "TAG#"
	fieldPrefix   = "#FIELD#"
	defaultUnique = "email"
)

// Key is a primary key of the table.
type Key struct {
	PK string
	SK string
}

// Prefix addresses a range of sort keys inside one partition.
type Prefix struct {
	PK       string
	SKPrefix string
}

// Entity returns the metadata key of an entity.
func Entity(entityType, entityID string) Key {
	return Key{PK: EntityPK(entityType, entityID), SK: MetadataSK}
}

// EntityPK returns the partition of an entity. Mutual items and tag markers owned
// by the entity share it.
func EntityPK(entityType, entityID string) string {
	return entityType + separator + entityID
}

// ParseEntityPK splits an entity partition key back into type and id.
func ParseEntityPK(pk string) (entityType, entityID string, ok bool) {
	entityType, entityID, ok = strings.Cut(pk, separator)
	if !ok || entityType == "" || entityID == "" || strings.ToUpper(entityType) == entityType {
		return "", "", false
	}
	return entityType, entityID, true
}

// List returns the GSI1 partition that enumerates all entities of a type, sorted by id.
func List(entityType string) Prefix {
	return Prefix{PK: listPrefix + entityType}
}

// ListSK returns the GSI1 sort key of an entity metadata item.
func ListSK(entityID string) string {
	return entityID
}

// Mutual returns the key of the item stored under byEntity's partition that points
// at entity. The mirrored item is Mutual(entityType, entityID, byEntityType, byEntityID).
func Mutual(byEntityType, byEntityID, entityType, entityID string) Key {
	return Key{
		PK: EntityPK(byEntityType, byEntityID),
		SK: entityType + separator + entityID,
	}
}

// MutualList returns the prefix that enumerates byEntity's mutuals of entityType.
func MutualList(byEntityType, byEntityID, entityType string) Prefix {
	return Prefix{
		PK:       EntityPK(byEntityType, byEntityID),
		SKPrefix: entityType + separator,
	}
}

// ParseMutualSK splits the sort key of a mutual item into the target type and id.
func ParseMutualSK(sk string) (entityType, entityID string, ok bool) {
	return ParseEntityPK(sk)
}

// EntityReplication returns the GSI1 key pair carried by every item that embeds a
// copy of the data of (entityType, entityID), owned by ownerPK.
func EntityReplication(entityType, entityID, ownerPK string) Key {
	return Key{PK: EntityPK(entityType, entityID), SK: ownerPK}
}

// MutualReplication returns the GSI2 key pair carried by both mirrored items of a mutual.
func MutualReplication(mutualID, ownerPK string) Key {
	return Key{PK: mutualPrefix + mutualID, SK: ownerPK}
}

// Email returns the uniqueness item key for an email address.
func Email(entityType, email string) Key {
	return Unique(defaultUnique, entityType, email)
}

// Unique returns the uniqueness item key for (field, value) of an entity type.
// The sort key is the entity type alone, not type#id: leaving the id out means at
// most one item can exist per value, so a conditional put claims it atomically.
// UniqueTarget stored on the item points back at the owning entity.
func Unique(field, entityType, value string) Key {
	return Key{
		PK: strings.ToUpper(field) + separator + value,
		SK: entityType,
	}
}

// UniqueTarget returns the sort key a uniqueness item stores to point back at the entity.
func UniqueTarget(entityType, entityID string) string {
	return EntityPK(entityType, entityID)
}

// FieldVersion returns the key of the item that records the version of the last
// sync applied to one mutual field of an entity. It lives in the entity partition
// and its sort key cannot collide with mutual items, whose types are lower-case.
func FieldVersion(entityType, entityID, field string) Key {
	return Key{PK: EntityPK(entityType, entityID), SK: fieldPrefix + field}
}

// TagList returns the partition that lists the entities tagged with tagName,
// optionally narrowed to one group.
func TagList(entityType, tagName, group string) Prefix {
	pk := tagPrefix + entityType + separator + tagName
	if group != "" {
		pk += separator + group
	}
	return Prefix{PK: pk}
}

// Tag returns the list item key of one tag value of an entity.
func Tag(entityType, tagName, group, sortValue, entityID string) Key {
	sk := entityID
	if sortValue != "" {
		sk = sortValue + separator + entityID
	}
	return Key{PK: TagList(entityType, tagName, group).PK, SK: sk}
}

// TagMarker returns the key of the marker stored in the entity partition for one of
// its tag values. Markers are used to reconcile the tag set of an entity.
func TagMarker(entityType, entityID, tagName, group, sortValue string) Key {
	return Key{
		PK: EntityPK(entityType, entityID),
		SK: tagPrefix + tagName + separator + group + separator + sortValue,
	}
}

// TagMarkers returns the prefix of all tag markers of an entity, optionally
// restricted to one tag name.
func TagMarkers(entityType, entityID, tagName string) Prefix {
	sk := tagPrefix
	if tagName != "" {
		sk += tagName + separator
	}
	return Prefix{PK: EntityPK(entityType, entityID), SKPrefix: sk}
}

// IsTagMarker reports whether sk belongs to a tag marker.
func IsTagMarker(sk string) bool {
	return strings.HasPrefix(sk, tagPrefix)
}
