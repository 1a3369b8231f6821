package orders

import "strconv"

// TopicOrderLifecycle carries every lifecycle event of every order.
const TopicOrderLifecycle = "order.lifecycle"

// Partition key = order id, so all events of one order keep their order.
func PartitionKey(orderID int64) []byte { return []byte(strconv.FormatInt(orderID, 10)) }
