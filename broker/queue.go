package broker

// QueueName derives the deterministic queue (or channel) name for an event.
// Independent processes constructed with the same group/subgroup pair compute
// the same name and therefore join the same consumer group.
//
// The format is wire-visible and must stay stable for interop:
// "group:event", or "group:subgroup:event" when a subgroup is set.
func QueueName(group, subgroup, event string) string {
	if subgroup != "" {
		return group + ":" + subgroup + ":" + event
	}
	return group + ":" + event
}
