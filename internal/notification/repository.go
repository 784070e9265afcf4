package notification

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository is the MongoDB implementation of Store, TemplateStore and
// SubscriptionStore.
type Repository struct {
	notifications *mongo.Collection
	templates     *mongo.Collection
	subscriptions *mongo.Collection
}

// NewRepository creates a new repository for notification persistence.
func NewRepository(db *mongo.Database) *Repository {
	return &Repository{
		notifications: db.Collection("notifications"),
		templates:     db.Collection("notification_templates"),
		subscriptions: db.Collection("notification_subscriptions"),
	}
}

// EnsureIndexes creates the indexes the scheduler and user-scoped queries
// rely on, including the unique subscription key that makes lazy creation an
// upsert rather than a check-then-insert race.
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	_, err := r.notifications.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "schedule.send_at", Value: 1}}},
		{Keys: bson.D{{Key: "recipients.user_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "metadata.created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}
	_, err = r.subscriptions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create subscription index: %w", err)
	}
	return nil
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: invalid notification id %q", ErrValidation, id)
	}
	return oid, nil
}

// Insert stores a new notification with freshly derived statistics.
func (r *Repository) Insert(ctx context.Context, n *Notification) error {
	n.RecomputeStatistics()
	res, err := r.notifications.InsertOne(ctx, n)
	if err != nil {
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		n.ID = oid
	}
	return nil
}

// FindByID fetches one notification.
func (r *Repository) FindByID(ctx context.Context, id string) (*Notification, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	var n Notification
	err = r.notifications.FindOne(ctx, bson.M{"_id": oid}).Decode(&n)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

// Save replaces the whole document, recomputing statistics and stamping
// updated_at first. Statistics are therefore always derived fresh before
// each persist.
func (r *Repository) Save(ctx context.Context, n *Notification) error {
	n.Metadata.UpdatedAt = time.Now()
	n.RecomputeStatistics()
	res, err := r.notifications.ReplaceOne(ctx, bson.M{"_id": n.ID}, n)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes one notification.
func (r *Repository) Delete(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	res, err := r.notifications.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a page of notifications scoped by the viewer's role.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*Notification, int64, error) {
	filter := bson.M{}
	switch f.ViewerRole {
	case "student":
		filter["recipients.user_id"] = f.ViewerID
	case "teacher":
		filter["$or"] = []bson.M{
			{"metadata.created_by": f.ViewerID},
			{"recipients.user_id": f.ViewerID},
		}
	}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.Priority != "" {
		filter["priority"] = f.Priority
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.SenderID != "" {
		filter["sender_id"] = f.SenderID
	}
	if f.StartDate != nil || f.EndDate != nil {
		created := bson.M{}
		if f.StartDate != nil {
			created["$gte"] = *f.StartDate
		}
		if f.EndDate != nil {
			created["$lte"] = *f.EndDate
		}
		filter["metadata.created_at"] = created
	}

	page, pageSize := pageBounds(f.Page, f.PageSize)
	opts := options.Find().
		SetSort(bson.D{{Key: "metadata.created_at", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := r.notifications.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var notifications []*Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, 0, err
	}
	total, err := r.notifications.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

// FindDue fetches scheduled notifications whose send time has arrived.
func (r *Repository) FindDue(ctx context.Context, now time.Time) ([]*Notification, error) {
	filter := bson.M{"status": StatusScheduled, "schedule.send_at": bson.M{"$lte": now}}
	cursor, err := r.notifications.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var notifications []*Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// DeleteExpired removes notifications past their expiry plus sent
// notifications older than the retention window.
func (r *Repository) DeleteExpired(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	res, err := r.notifications.DeleteMany(ctx, bson.M{"$or": []bson.M{
		{"settings.auto_expire": true, "schedule.expires_at": bson.M{"$lt": now}},
		{"status": StatusSent, "metadata.created_at": bson.M{"$lt": now.Add(-retention)}},
	}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// recipientTally counts recipients matching cond, evaluated server-side
// inside an update pipeline.
func recipientTally(cond interface{}) bson.M {
	return bson.M{"$size": bson.M{"$filter": bson.M{
		"input": "$recipients",
		"as":    "r",
		"cond":  cond,
	}}}
}

func rateExpr(counter string) bson.M {
	return bson.M{"$cond": bson.A{
		bson.M{"$gt": bson.A{"$statistics.total_recipients", 0}},
		bson.M{"$multiply": bson.A{
			bson.M{"$divide": bson.A{counter, "$statistics.total_recipients"}},
			100,
		}},
		0,
	}}
}

// statisticsStages rederives the statistics block from the recipients array.
// Appended to every recipient-mutating update pipeline, so the counters and
// the recipient write land in the same atomic document update; a concurrent
// mutation of another recipient can never leave the statistics computed from
// a stale snapshot.
func statisticsStages() []bson.D {
	counters := bson.D{{Key: "$set", Value: bson.M{
		"statistics.total_recipients": bson.M{"$size": "$recipients"},
		"statistics.sent_count": recipientTally(
			bson.M{"$ne": bson.A{"$$r.delivery_status", DeliveryPending}}),
		"statistics.delivered_count": recipientTally(
			bson.M{"$in": bson.A{"$$r.delivery_status", bson.A{DeliveryDelivered, DeliveryRead}}}),
		"statistics.read_count": recipientTally(
			bson.M{"$eq": bson.A{"$$r.delivery_status", DeliveryRead}}),
		"statistics.acknowledged_count": recipientTally("$$r.acknowledged"),
		"statistics.failed_count": recipientTally(
			bson.M{"$eq": bson.A{"$$r.delivery_status", DeliveryFailed}}),
	}}}
	// Rates reference the counters, so they need their own stage.
	rates := bson.D{{Key: "$set", Value: bson.M{
		"statistics.open_rate":     rateExpr("$statistics.read_count"),
		"statistics.response_rate": rateExpr("$statistics.acknowledged_count"),
	}}}
	return []bson.D{counters, rates}
}

// readRecipientStage rewrites the user's unread recipient entry via $map, the
// pipeline-update equivalent of a positional $set.
func readRecipientStage(userID string, at time.Time) bson.D {
	return bson.D{{Key: "$set", Value: bson.M{
		"recipients": bson.M{"$map": bson.M{
			"input": "$recipients",
			"as":    "r",
			"in": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$$r.user_id", userID}},
					bson.M{"$not": bson.A{"$$r.read_at"}},
				}},
				bson.M{"$mergeObjects": bson.A{"$$r", bson.M{
					"read_at":         at,
					"delivery_status": DeliveryRead,
				}}},
				"$$r",
			}},
		}},
		"metadata.updated_at": at,
	}}}
}

// MarkRead stamps read_at on the matching recipient only, leaving other
// recipients untouched and rederiving statistics in the same update. The
// read_at guard makes repeated calls no-ops.
func (r *Repository) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	filter := bson.M{
		"_id": oid,
		"recipients": bson.M{"$elemMatch": bson.M{
			"user_id": userID,
			"read_at": bson.M{"$exists": false},
		}},
	}
	pipeline := mongo.Pipeline{readRecipientStage(userID, at)}
	pipeline = append(pipeline, statisticsStages()...)
	res, err := r.notifications.UpdateOne(ctx, filter, pipeline)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Either already read (idempotent success) or not addressed to
		// this user at all.
		count, err := r.notifications.CountDocuments(ctx, bson.M{"_id": oid, "recipients.user_id": userID})
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return nil
	}
	return nil
}

// MarkAllRead stamps read_at on every unread recipient entry for the user,
// one atomic recipients-plus-statistics update per document.
func (r *Repository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	filter := bson.M{"recipients": bson.M{"$elemMatch": bson.M{
		"user_id": userID,
		"read_at": bson.M{"$exists": false},
	}}}
	pipeline := mongo.Pipeline{readRecipientStage(userID, at)}
	pipeline = append(pipeline, statisticsStages()...)
	res, err := r.notifications.UpdateMany(ctx, filter, pipeline)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// Acknowledge marks the matching recipient's acknowledgment, rederiving
// statistics in the same update.
func (r *Repository) Acknowledge(ctx context.Context, id, userID string, at time.Time) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	filter := bson.M{
		"_id": oid,
		"recipients": bson.M{"$elemMatch": bson.M{
			"user_id":      userID,
			"acknowledged": false,
		}},
	}
	ackStage := bson.D{{Key: "$set", Value: bson.M{
		"recipients": bson.M{"$map": bson.M{
			"input": "$recipients",
			"as":    "r",
			"in": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$eq": bson.A{"$$r.user_id", userID}},
					bson.M{"$not": bson.A{"$$r.acknowledged"}},
				}},
				bson.M{"$mergeObjects": bson.A{"$$r", bson.M{
					"acknowledged":    true,
					"acknowledged_at": at,
				}}},
				"$$r",
			}},
		}},
		"metadata.updated_at": at,
	}}}
	pipeline := mongo.Pipeline{ackStage}
	pipeline = append(pipeline, statisticsStages()...)
	res, err := r.notifications.UpdateOne(ctx, filter, pipeline)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		count, err := r.notifications.CountDocuments(ctx, bson.M{"_id": oid, "recipients.user_id": userID})
		if err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return nil
	}
	return nil
}

func userInboxFilter(userID string, opts UserListOptions) bson.M {
	recipient := bson.M{"user_id": userID}
	if opts.UnreadOnly {
		recipient["read_at"] = bson.M{"$exists": false}
	}
	filter := bson.M{
		"recipients": bson.M{"$elemMatch": recipient},
		"status":     bson.M{"$in": []string{StatusSent, StatusFailed}},
	}
	if opts.Type != "" {
		filter["type"] = opts.Type
	}
	return filter
}

// UserNotifications returns a page of notifications addressed to the user.
func (r *Repository) UserNotifications(ctx context.Context, userID string, opts UserListOptions) ([]*Notification, int64, error) {
	filter := userInboxFilter(userID, opts)
	page, pageSize := pageBounds(opts.Page, opts.PageSize)
	findOpts := options.Find().
		SetSort(bson.D{{Key: "metadata.created_at", Value: -1}}).
		SetSkip(int64((page - 1) * pageSize)).
		SetLimit(int64(pageSize))

	cursor, err := r.notifications.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, err
	}
	var notifications []*Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, 0, err
	}
	total, err := r.notifications.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

// UnreadCount counts delivered notifications with no read_at for the user.
func (r *Repository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return r.notifications.CountDocuments(ctx,
		userInboxFilter(userID, UserListOptions{UnreadOnly: true}))
}

func toObjectIDs(ids []string) []primitive.ObjectID {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	return oids
}

// BatchDelete removes the given notifications.
func (r *Repository) BatchDelete(ctx context.Context, ids []string) (int64, error) {
	res, err := r.notifications.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": toObjectIDs(ids)}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// BatchCancel cancels the given notifications; only draft and scheduled ones
// are eligible, per the state machine.
func (r *Repository) BatchCancel(ctx context.Context, ids []string) (int64, error) {
	res, err := r.notifications.UpdateMany(ctx,
		bson.M{
			"_id":    bson.M{"$in": toObjectIDs(ids)},
			"status": bson.M{"$in": []string{StatusDraft, StatusScheduled}},
		},
		bson.M{"$set": bson.M{"status": StatusCancelled, "metadata.updated_at": time.Now()}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// StatsOverview aggregates platform-wide counters by type, priority and
// status, plus the summed delivery statistics.
func (r *Repository) StatsOverview(ctx context.Context) (*StatsOverview, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$facet", Value: bson.M{
			"totals": []bson.M{{"$group": bson.M{
				"_id":                nil,
				"totalNotifications": bson.M{"$sum": 1},
				"totalRecipients":    bson.M{"$sum": "$statistics.total_recipients"},
				"totalSent":          bson.M{"$sum": "$statistics.sent_count"},
				"totalDelivered":     bson.M{"$sum": "$statistics.delivered_count"},
				"totalRead":          bson.M{"$sum": "$statistics.read_count"},
				"totalAcknowledged":  bson.M{"$sum": "$statistics.acknowledged_count"},
				"totalFailed":        bson.M{"$sum": "$statistics.failed_count"},
			}}},
			"byType":     []bson.M{{"$group": bson.M{"_id": "$type", "count": bson.M{"$sum": 1}}}},
			"byPriority": []bson.M{{"$group": bson.M{"_id": "$priority", "count": bson.M{"$sum": 1}}}},
			"byStatus":   []bson.M{{"$group": bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
		}}},
	}
	cursor, err := r.notifications.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	var results []struct {
		Totals []struct {
			TotalNotifications int64 `bson:"totalNotifications"`
			TotalRecipients    int64 `bson:"totalRecipients"`
			TotalSent          int64 `bson:"totalSent"`
			TotalDelivered     int64 `bson:"totalDelivered"`
			TotalRead          int64 `bson:"totalRead"`
			TotalAcknowledged  int64 `bson:"totalAcknowledged"`
			TotalFailed        int64 `bson:"totalFailed"`
		} `bson:"totals"`
		ByType     []bucket `bson:"byType"`
		ByPriority []bucket `bson:"byPriority"`
		ByStatus   []bucket `bson:"byStatus"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}

	overview := &StatsOverview{
		ByType:     map[string]int64{},
		ByPriority: map[string]int64{},
		ByStatus:   map[string]int64{},
	}
	if len(results) == 0 {
		return overview, nil
	}
	res := results[0]
	if len(res.Totals) > 0 {
		t := res.Totals[0]
		overview.TotalNotifications = t.TotalNotifications
		overview.TotalRecipients = t.TotalRecipients
		overview.TotalSent = t.TotalSent
		overview.TotalDelivered = t.TotalDelivered
		overview.TotalRead = t.TotalRead
		overview.TotalAcknowledged = t.TotalAcknowledged
		overview.TotalFailed = t.TotalFailed
	}
	for _, b := range res.ByType {
		overview.ByType[b.ID] = b.Count
	}
	for _, b := range res.ByPriority {
		overview.ByPriority[b.ID] = b.Count
	}
	for _, b := range res.ByStatus {
		overview.ByStatus[b.ID] = b.Count
	}
	return overview, nil
}

// InsertTemplate stores a new notification template.
func (r *Repository) InsertTemplate(ctx context.Context, tpl *NotificationTemplate) error {
	res, err := r.templates.InsertOne(ctx, tpl)
	if err != nil {
		return err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		tpl.ID = oid
	}
	return nil
}

// FindTemplateByID fetches one template.
func (r *Repository) FindTemplateByID(ctx context.Context, id string) (*NotificationTemplate, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid template id %q", ErrValidation, id)
	}
	var tpl NotificationTemplate
	err = r.templates.FindOne(ctx, bson.M{"_id": oid}).Decode(&tpl)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tpl, nil
}

// ListTemplates returns templates matching the filter, newest first.
func (r *Repository) ListTemplates(ctx context.Context, f TemplateFilter) ([]*NotificationTemplate, error) {
	filter := bson.M{}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.IsActive != nil {
		filter["is_active"] = *f.IsActive
	}
	cursor, err := r.templates.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var templates []*NotificationTemplate
	if err := cursor.All(ctx, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// GetSubscription fetches the user's subscription, or nil if none exists.
func (r *Repository) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription
	err := r.subscriptions.FindOne(ctx, bson.M{"user_id": userID}).Decode(&sub)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// GetOrCreateSubscription returns the user's subscription, lazily creating
// the default one. The upsert keeps concurrent first access by the same user
// from inserting twice.
func (r *Repository) GetOrCreateSubscription(ctx context.Context, userID string) (*Subscription, error) {
	def := DefaultSubscription(userID)
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var sub Subscription
	err := r.subscriptions.FindOneAndUpdate(ctx,
		bson.M{"user_id": userID},
		bson.M{"$setOnInsert": def},
		opts).Decode(&sub)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpsertSubscription replaces the user's preferences and filters.
func (r *Repository) UpsertSubscription(ctx context.Context, sub *Subscription) (*Subscription, error) {
	now := time.Now()
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var updated Subscription
	err := r.subscriptions.FindOneAndUpdate(ctx,
		bson.M{"user_id": sub.UserID},
		bson.M{
			"$set": bson.M{
				"preferences": sub.Preferences,
				"filters":     sub.Filters,
				"updated_at":  now,
			},
			"$setOnInsert": bson.M{"user_id": sub.UserID, "created_at": now},
		},
		opts).Decode(&updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func pageBounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
