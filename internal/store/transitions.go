package store

import "qms/turno-service/internal/models"

var transitionMap = map[string][]string{
	models.StateWaiting:   {models.StateInService, models.StateCancelled},
	models.StateInService: {models.StateDone, models.StateCancelled},
}

func ValidTransition(fromState, toState string) bool {
	allowed, ok := transitionMap[fromState]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == toState {
			return true
		}
	}
	return false
}
