package model

// Status 后台响应的判别字段
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Request 发送给编解码后台的请求，Buffer 以转移方式传入
type Request struct {
	TaskID    string
	Buffer    *Buffer
	MediaType string
	Name      string // 原样带回，不做解释
	Format    Format
	Quality   *float64 // 无损格式为 nil
}

// Response 编解码后台的响应，每个请求恰好对应一个
type Response struct {
	TaskID  string
	Status  Status
	Encoded []byte // 仅 success
	Name    string
	Message string    // 仅 error
	Kind    ErrorKind // 仅 error
}

// Success 构造成功响应
func Success(taskID, name string, encoded []byte) Response {
	return Response{
		TaskID:  taskID,
		Status:  StatusSuccess,
		Encoded: encoded,
		Name:    name,
	}
}

// Failure 构造失败响应
func Failure(taskID, name string, kind ErrorKind, err error) Response {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Response{
		TaskID:  taskID,
		Status:  StatusError,
		Name:    name,
		Message: msg,
		Kind:    kind,
	}
}
