// Package access decides what an authenticated caller may do with an entity.
// Share links are gated separately by the share link service.
package access

import "cloudshare-backend/internal/models"

// CanWrite is true only for the owner. Sharing never grants write access.
func CanWrite(entity *models.Entity, caller *models.Caller) bool {
	if entity == nil || caller == nil || caller.ID == "" {
		return false
	}
	return caller.ID == entity.OwnerID
}

// CanRead is true for the owner and for users in SharedWith.
func CanRead(entity *models.Entity, caller *models.Caller) bool {
	if CanWrite(entity, caller) {
		return true
	}
	if entity == nil || caller == nil || caller.ID == "" {
		return false
	}
	return entity.IsSharedWith(caller.ID)
}
