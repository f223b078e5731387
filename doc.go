/*
Package passwordless provides passwordless, email-based user authentication
using single-use entry links.

The flow is the following:

 1. A user wants to login. He/she provides his/her email.
 2. A one-time entry key is generated and a link containing it is emailed to
    him/her by Authenticator.Issue().
 3. The user opens the link. The entry key can be checked by Authenticator.Verify().
 4. If the entry key was valid, Authenticator.Authenticate() consumes it and
    starts a session for the user. Authenticator.Redeem() does both in one call.

A user has at most one current entry key. Issuing a new key supersedes the
previous one, which can no longer be redeemed even if it has not expired yet.
An entry key can be redeemed only once, consumption is atomic in every Store
implementation.

Authenticator does not know about users, sessions or email transports, those
are provided by the host application through UserDirectory, SessionStarter and
SendEmailFunc. Entry keys are persisted in a Store: MemStore is provided in this
package, MongoDB, Badger and Redis backed stores are provided by the
mongostore, badgerstore and redisstore packages.

*/
package passwordless
