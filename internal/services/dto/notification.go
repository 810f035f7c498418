package dto

type NotificationListQuery struct {
	PageQuery
	UnreadOnly bool `form:"unread_only"`
}

type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

type SafetyFlagRequest struct {
	SubjectID string `json:"subject_id" validate:"required,uuid"`
	Message   string `json:"message" validate:"required,min=5,max=1000"`
}
