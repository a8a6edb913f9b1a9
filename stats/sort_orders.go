package stats

import (
	"encoding/json"
	"fmt"

	"hermannm.dev/enumnames"
)

type SortOrder int8

const (
	SortOrderAscending SortOrder = iota + 1
	SortOrderDescending
)

var sortOrderMap = enumnames.NewMap(map[SortOrder]string{
	SortOrderAscending:  "asc",
	SortOrderDescending: "desc",
})

func ParseSortOrder(name string) (SortOrder, error) {
	nameJSON, err := json.Marshal(name)
	if err != nil {
		return 0, err
	}

	var sortOrder SortOrder
	if err := sortOrderMap.UnmarshalFromNameJSON(nameJSON, &sortOrder); err != nil {
		return 0, fmt.Errorf("unknown sort order '%s' (must be 'asc' or 'desc')", name)
	}
	return sortOrder, nil
}

func (sortOrder SortOrder) IsValid() bool {
	return sortOrderMap.ContainsEnumValue(sortOrder)
}

func (sortOrder SortOrder) String() string {
	return sortOrderMap.GetNameOrFallback(sortOrder, "INVALID_SORT_ORDER")
}

func (sortOrder SortOrder) Toggle() SortOrder {
	if sortOrder == SortOrderAscending {
		return SortOrderDescending
	}
	return SortOrderAscending
}

func (sortOrder SortOrder) MarshalJSON() ([]byte, error) {
	return sortOrderMap.MarshalToNameJSON(sortOrder)
}

func (sortOrder *SortOrder) UnmarshalJSON(bytes []byte) error {
	return sortOrderMap.UnmarshalFromNameJSON(bytes, sortOrder)
}
