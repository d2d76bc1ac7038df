package model

import "encoding/json"

// ToDict serializes the plan to its canonical wire form. Paired with
// FromDict it must satisfy the round-trip law ToDict ∘ FromDict = identity.
func (p FilterPlan) ToDict() ([]byte, error) {
	return json.Marshal(p)
}

// FromDict is the inverse of ToDict.
func FilterPlanFromDict(data []byte) (FilterPlan, error) {
	var p FilterPlan
	err := json.Unmarshal(data, &p)
	return p, err
}
