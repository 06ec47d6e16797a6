package presence

const (
	Env_AwsEndpoint        = "AWS_ENDPOINT"
	Env_AwsRegion          = "AWS_REGION"
	Env_Env                = "ENV"
	Env_LogLevel           = "LOG_LEVEL"
	Env_PubNubSubscribeKey = "PUBNUB_SUBSCRIBE_KEY"
	Env_PubNubUserId       = "PUBNUB_USER_ID"
	Env_RedisUrl           = "REDIS_URL"
	Env_ServerUrl          = "SERVER_URL"
)
