package protocol

// This package implements parsing and serialising the text protocol that
// courier clients use to talk to a message broker.
//
// - `Frame` - A single parsed operation, including its payload if it has one.
// - `Reader` - Parses a stream of frames, either as seen by a client
//              (`ReadServerFrame`) or as seen by a broker (`ReadClientFrame`).
// - `Write*` - Serialise a single operation with a single Write call.
//
// === General Syntax
//
// - control lines are `\r\n` delimited
// - operation names are case sensitive and uppercase
// - arguments are separated by spaces (or tabs)
// - operations that carry a payload state its length in bytes as their last
//   argument, the payload follows the control line and is itself followed by
//   `\r\n`
//
// === Client operations
//
//  ```
//    > CONNECT {"verbose":false,"pedantic":false,"name":"..."}\r\n
//    > PUB <subject> [reply-to] <#bytes>\r\n<payload>\r\n
//    > SUB <subject> [queue group] <sid>\r\n
//    > UNSUB <sid> [max_msgs]\r\n
//    > PING\r\n
//    > PONG\r\n
//  ```
//
// The sid is chosen by the client. The broker echoes it back on every MSG
// so the client never has to match subjects against its subscriptions.
//
// === Server operations
//
//  ```
//    < INFO {"server_id":"...","max_payload":1048576}\r\n
//    < MSG <subject> <sid> [reply-to] <#bytes>\r\n<payload>\r\n
//    < PING\r\n
//    < PONG\r\n
//    < +OK\r\n
//    < -ERR '<description>'\r\n
//  ```
//
// A PONG is sent for every PING, in the order the PINGs were received. Clients
// rely on this to confirm that everything written before a PING has been
// processed.
//
// === Subjects
//
// Subjects are `.` separated tokens. Subscriptions may use `*` to match a
// single token and `>`, as the last token only, to match all remaining
// tokens. See the subject package.
