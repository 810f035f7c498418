package repositories

import (
	"trustwork_backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NotificationRepository interface {
	CreateOnce(db *gorm.DB, n *models.Notification) (bool, error)
	FindOwned(db *gorm.DB, userID, id string) (*models.Notification, error)
	List(db *gorm.DB, userID string, unreadOnly bool, page Pagination) ([]models.Notification, int64, error)
	CountUnread(db *gorm.DB, userID string) (int64, error)
	MarkRead(db *gorm.DB, userID, id string) (bool, error)
	MarkAllRead(db *gorm.DB, userID string) ([]string, error)
	Delete(db *gorm.DB, userID, id string) (*models.Notification, error)
}

type NotificationRepositoryImpl struct{}

func NewNotificationRepository() NotificationRepository {
	return &NotificationRepositoryImpl{}
}

// CreateOnce вставляет уведомление, если для пары (event_id, user_id) его еще нет.
// false - строка уже была записана прошлой доставкой того же события.
// Без event_id строка вставляется всегда.
func (r *NotificationRepositoryImpl) CreateOnce(db *gorm.DB, n *models.Notification) (bool, error) {
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(n)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FindOwned - чужое уведомление неотличимо от отсутствующего
func (r *NotificationRepositoryImpl) FindOwned(db *gorm.DB, userID, id string) (*models.Notification, error) {
	var n models.Notification
	err := db.Scopes(OwnedBy("user_id", userID)).First(&n, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &n, nil
}

func (r *NotificationRepositoryImpl) List(db *gorm.DB, userID string, unreadOnly bool, page Pagination) ([]models.Notification, int64, error) {
	q := db.Model(&models.Notification{}).Scopes(OwnedBy("user_id", userID))
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.Notification
	err := q.Scopes(page.Scope).Order("created_at DESC").Order("id DESC").Find(&list).Error
	return list, total, err
}

func (r *NotificationRepositoryImpl) CountUnread(db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, err
}

// MarkRead возвращает true, если флаг действительно изменился
func (r *NotificationRepositoryImpl) MarkRead(db *gorm.DB, userID, id string) (bool, error) {
	res := db.Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND is_read = ?", id, userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": models.NowUTC()})
	return res.RowsAffected > 0, res.Error
}

// MarkAllRead возвращает ID реально измененных уведомлений.
// Один UPDATE ... RETURNING: параллельный MarkRead не попадет в результат дважды.
func (r *NotificationRepositoryImpl) MarkAllRead(db *gorm.DB, userID string) ([]string, error) {
	var ids []string
	err := db.Raw(
		`UPDATE notifications SET is_read = ?, read_at = ? WHERE user_id = ? AND is_read = ? RETURNING id`,
		true, models.NowUTC(), userID, false,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete - жесткое удаление владельцем; возвращает удаленную строку
func (r *NotificationRepositoryImpl) Delete(db *gorm.DB, userID, id string) (*models.Notification, error) {
	n, err := r.FindOwned(db, userID, id)
	if err != nil {
		return nil, err
	}
	if err := db.Delete(&models.Notification{}, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, err
	}
	return n, nil
}
