package model

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/crypto/bcrypt"
)

// UserRole 用户角色
type UserRole string

const (
	UserRoleUser      UserRole = "user"
	UserRoleGuide     UserRole = "guide"
	UserRoleLeadGuide UserRole = "lead-guide"
	UserRoleAdmin     UserRole = "admin"
)

// DefaultPhoto 默认头像
const DefaultPhoto = "default.jpg"

// MinPasswordLength 密码最小长度
const MinPasswordLength = 8

// bcrypt 成本
const passwordCost = 12

// User 用户
//
// Password / PasswordConfirm 只作为写入输入，Normalize 后被哈希并清空；
// 存储中的 password 字段是 bcrypt 哈希，永不出现在 JSON 中。
// Active 为 false 表示已软删除，默认过滤条件会隐藏该用户。
type User struct {
	ID    bson.ObjectID `json:"_id" bson:"_id"`
	Name  string        `json:"name" bson:"name" validate:"required"`
	Email string        `json:"email" bson:"email" validate:"required,email"`
	Photo string        `json:"photo" bson:"photo"`
	Role  UserRole      `json:"role" bson:"role" validate:"oneof=user guide lead-guide admin"`

	Password        string `json:"password,omitempty" bson:"-"`
	PasswordConfirm string `json:"passwordConfirm,omitempty" bson:"-"`
	PasswordHash    string `json:"-" bson:"password"` // never expose in JSON

	PasswordChangedAt    *time.Time `json:"passwordChangedAt,omitempty" bson:"passwordChangedAt,omitempty"`
	PasswordResetToken   string     `json:"-" bson:"passwordResetToken,omitempty"`
	PasswordResetExpires *time.Time `json:"-" bson:"passwordResetExpires,omitempty"`

	Active    *bool     `json:"-" bson:"active,omitempty"`
	CreatedAt time.Time `json:"-" bson:"createdAt"`
	Revision  int       `json:"-" bson:"__v"`
}

func (u *User) DocumentID() bson.ObjectID      { return u.ID }
func (u *User) SetDocumentID(id bson.ObjectID) { u.ID = id }
func (u *User) SetCreatedAt(at time.Time)      { u.CreatedAt = at }

// IsActive 未显式停用即视为活跃
func (u *User) IsActive() bool {
	return u.Active == nil || *u.Active
}

// Normalize 规范化邮箱并补齐默认值
func (u *User) Normalize(isNew bool) {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Photo == "" {
		u.Photo = DefaultPhoto
	}
	if u.Role == "" {
		u.Role = UserRoleUser
	}
	if isNew {
		active := true
		u.Active = &active
	}
}

// Validate 校验全部规则；isNew 时要求密码与确认密码
func (u *User) Validate(isNew bool) error {
	ve := check("user", u)
	if isNew {
		switch {
		case u.Password == "" && u.PasswordHash == "":
			ve.Add("password", "is required")
		case u.Password != "" && len(u.Password) < MinPasswordLength:
			ve.Add("password", "must have at least 8 characters")
		}
		if u.Password != "" && u.PasswordConfirm != u.Password {
			ve.Add("passwordConfirm", "passwords are not the same")
		}
	}
	return ve.Err()
}

// HashPassword 哈希明文密码并清空输入字段
func (u *User) HashPassword() error {
	if u.Password == "" {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), passwordCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	u.Password = ""
	u.PasswordConfirm = ""
	return nil
}

// ChangedPasswordAfter 令牌签发后是否修改过密码
func (u *User) ChangedPasswordAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return issuedAt.Unix() < u.PasswordChangedAt.Unix()
}

// AsAuthor 评论作者视图
func (u *User) AsAuthor() *Author {
	return &Author{ID: u.ID, Name: u.Name, Photo: u.Photo}
}

// Profile 导游等公开展示视图（去掉密码相关信息）
func (u *User) Profile() *User {
	return &User{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Photo: u.Photo,
		Role:  u.Role,
	}
}
