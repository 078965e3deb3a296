package cache

// Key builders for the cache families the dispatch pipeline uses. Writes that
// change the underlying rows must delete the matching key.

// CommandKey is the cache key for a command looked up by prefix and name.
func CommandKey(prefix, name string) string {
	return "command:" + prefix + ":" + name
}

// PermissionKey is the cache key for a command permission row.
func PermissionKey(commandID, entityID string) string {
	return "permission:" + commandID + ":" + entityID
}

// StringRulesKey is the cache key for the string rules applicable to an entity.
func StringRulesKey(entityID string) string {
	return "stringrules:" + entityID
}

// StringRulesPrefix is the common prefix of all string-rule keys, used to
// invalidate every entity's cached rule list at once.
const StringRulesPrefix = "stringrules:"

// EntityKey is the cache key for an entity row.
func EntityKey(entityID string) string {
	return "entity:" + entityID
}
