package av

// CanAccess is the access policy gate consulted before every lineage operation:
// the requester must own the lineage or hold the admin role.
// An anonymous principal never passes, whatever its role.
func CanAccess(p Principal, ownerID string) bool {
	if p.ID == "" {
		return false
	}
	if p.Role == RoleAdmin {
		return true
	}
	return ownerID != "" && p.ID == ownerID
}
