package model

// Snapshot is a JSON dump of the LMS rows the report reads. It is used to
// populate a self-contained sqlite database.
type Snapshot struct {
	Courses         []Course                 `json:"courses"`
	Users           []SnapshotUser           `json:"users"`
	Roles           []SnapshotRole           `json:"roles"`
	RoleAssignments []SnapshotRoleAssignment `json:"role_assignments"`
	Quizzes         []SnapshotQuiz           `json:"quizzes"`
	Attempts        []SnapshotAttempt        `json:"attempts"`
	Groups          []SnapshotGroup          `json:"groups"`
	GroupMembers    []SnapshotGroupMember    `json:"group_members"`
	SiteAdmins      []int64                  `json:"site_admins"`
}

// SnapshotUser is an LMS user account.
type SnapshotUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// SnapshotRole is an LMS role definition.
type SnapshotRole struct {
	ID        int64  `json:"id"`
	ShortName string `json:"shortname"`
}

// SnapshotRoleAssignment assigns a role to a user. CourseID 0 means the system context.
type SnapshotRoleAssignment struct {
	UserID   int64 `json:"userid"`
	RoleID   int64 `json:"roleid"`
	CourseID int64 `json:"courseid"`
}

// SnapshotQuiz is a quiz together with its course module.
type SnapshotQuiz struct {
	ID           int64  `json:"id"`
	CourseID     int64  `json:"courseid"`
	ModuleID     int64  `json:"cmid"`
	Name         string `json:"name"`
	Availability string `json:"availability,omitempty"`
}

// SnapshotAttempt is one quiz attempt.
type SnapshotAttempt struct {
	QuizID  int64  `json:"quiz"`
	UserID  int64  `json:"userid"`
	Attempt int    `json:"attempt"`
	State   string `json:"state"`
}

// SnapshotGroup is a course group.
type SnapshotGroup struct {
	ID       int64  `json:"id"`
	CourseID int64  `json:"courseid"`
	Name     string `json:"name"`
}

// SnapshotGroupMember puts a user into a group.
type SnapshotGroupMember struct {
	GroupID int64 `json:"groupid"`
	UserID  int64 `json:"userid"`
}
