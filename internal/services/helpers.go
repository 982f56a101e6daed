package services

import "context"

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func recordActivity(activity *ActivityService, ctx context.Context, entry ActivityEntry) {
	if activity == nil {
		return
	}
	_ = activity.Record(ctx, entry)
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
