package events

import (
	"encoding/json"
	"fmt"

	appErrors "github.com/monorist/monorise/pkg/errors"
	"github.com/monorist/monorise/pkg/utils"
)

// Decode turns an EventBridge detail into its typed event and validates it.
// Unknown detail-types and invalid payloads are validation errors.
func Decode(detailType string, detail []byte) (DomainEvent, error) {
	var (
		event DomainEvent
		err   error
	)

	switch detailType {
	case CreateEntity:
		event, err = decodeInto[CreateEntityCommand](detail)
	case EntityCreated:
		event, err = decodeInto[EntityCreatedEvent](detail)
	case EntityUpdated:
		event, err = decodeInto[EntityUpdatedEvent](detail)
	case EntityDeleted:
		event, err = decodeInto[EntityDeletedEvent](detail)
	case EntityMutualToCreate, EntityMutualToUpdate:
		var e EntityMutualEvent
		e, err = decodeInto[EntityMutualEvent](detail)
		e.EventType = detailType
		event = e
	case EntityMutualProcessed:
		event, err = decodeInto[EntityMutualProcessedEvent](detail)
	case PrejoinRelationshipSync:
		event, err = decodeInto[PrejoinRelationshipSyncEvent](detail)
	default:
		return nil, appErrors.NewValidationError(fmt.Sprintf("unsupported event %q", detailType))
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

func decodeInto[T any](detail []byte) (T, error) {
	var event T
	if err := json.Unmarshal(detail, &event); err != nil {
		return event, appErrors.NewValidationError("malformed event detail").WithCause(err)
	}
	if err := utils.ValidateStruct(event); err != nil {
		return event, appErrors.NewValidationError(err.Error())
	}
	return event, nil
}
